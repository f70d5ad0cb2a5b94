package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// KeepAliveInterval is how often a comment line is sent on an idle stream.
const KeepAliveInterval = 25 * time.Second

// WriteEvent writes ev in the text/event-stream format.
func WriteEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	message := "event: " + ev.Name + "\n"
	message = message + "data: "
	messageBytes := append([]byte(message), data...)
	messageBytes = append(messageBytes, '\n', '\n')

	_, err = w.Write(messageBytes)
	return err
}

// Stream writes events for id to w until a terminal event has been written,
// the client goes away or ctx is done.
func Stream(ctx context.Context, w http.ResponseWriter, hub *Hub, id string) error {
	wf, ok := w.(http.Flusher)
	if !ok {
		return errors.New("response writer does not support flushing")
	}

	events, cancel := hub.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			wf.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, ev); err != nil {
				return err
			}
			wf.Flush()
			if ev.Terminal() {
				return nil
			}
		}
	}
}
