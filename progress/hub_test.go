package progress

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	ch, cancel := h.Subscribe("abc")
	defer cancel()

	h.Publish("abc", Update("Uploaded image 1/2", 1, 2))
	h.Publish("other", Update("not for us", 0, 0))
	h.Publish("abc", Complete([]string{"x"}))

	if ev := receive(t, ch); ev.Name != EventUpdate {
		t.Errorf("first event = %q, want %q", ev.Name, EventUpdate)
	}
	ev := receive(t, ch)
	if ev.Name != EventComplete || !ev.Terminal() {
		t.Errorf("second event = %+v, want terminal %q", ev, EventComplete)
	}
}

func TestHub_replaysBacklog(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.Publish("late", Update("Starting image upload...", 0, 0))
	h.Publish("late", Error("Error: boom"))

	ch, cancel := h.Subscribe("late")
	defer cancel()

	if ev := receive(t, ch); ev.Name != EventUpdate {
		t.Errorf("replayed event = %q, want %q", ev.Name, EventUpdate)
	}
	if ev := receive(t, ch); ev.Name != EventError {
		t.Errorf("replayed event = %q, want %q", ev.Name, EventError)
	}
}

func TestHub_terminalEventSurvivesFullBuffer(t *testing.T) {
	publish := func(h *Hub, id string) {
		h.Publish(id, Update("Starting image upload...", 0, 0))
		for i := 1; i <= 70; i++ {
			h.Publish(id, Update(fmt.Sprintf("Uploaded image %d/70", i), i, 70))
		}
		h.Publish(id, Complete([]string{"x"}))
	}

	tests := []struct {
		name      string
		subscribe bool // before publishing
	}{
		{name: "late subscriber", subscribe: false},
		{name: "slow subscriber", subscribe: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(time.Minute)
			defer h.Close()

			var ch <-chan Event
			if tt.subscribe {
				c, cancel := h.Subscribe("big")
				defer cancel()
				ch = c
			}

			publish(h, "big")

			if !tt.subscribe {
				c, cancel := h.Subscribe("big")
				defer cancel()
				ch = c
			}

			var events []Event
			for len(ch) > 0 {
				events = append(events, <-ch)
			}

			if len(events) != subscriberBuffer {
				t.Errorf("received %d events, want %d", len(events), subscriberBuffer)
			}
			terminal := 0
			for _, ev := range events {
				if ev.Terminal() {
					terminal++
				}
			}
			if terminal != 1 {
				t.Fatalf("received %d terminal events, want 1", terminal)
			}
			if last := events[len(events)-1]; last.Name != EventComplete {
				t.Errorf("last event = %q, want %q", last.Name, EventComplete)
			}
		})
	}
}

func TestHub_unobservedTopicExpires(t *testing.T) {
	h := NewHub(10 * time.Millisecond)
	defer h.Close()

	h.Publish("gone", Update("hello", 0, 0))
	if h.Topics() != 1 {
		t.Fatalf("Topics() = %d, want 1", h.Topics())
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Topics() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("topic was not expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_cancelAfterClose(t *testing.T) {
	h := NewHub(time.Minute)
	_, cancel := h.Subscribe("a")
	h.Close()
	cancel() // must not panic on an already closed channel
}

func TestHub_ignoresEmptyID(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.Publish("", Update("x", 0, 0))
	if h.Topics() != 0 {
		t.Errorf("Topics() = %d, want 0", h.Topics())
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvent(&buf, Update("Uploaded image 2/3", 2, 3)); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}

	want := "event: processing-update\ndata: {\"index\":2,\"message\":\"Uploaded image 2/3\",\"total\":3}\n\n"
	if buf.String() != want {
		t.Errorf("WriteEvent() = %q, want %q", buf.String(), want)
	}
}

func TestStream_stopsAfterTerminalEvent(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.Publish("id-1", Update("Starting image upload...", 0, 0))
	h.Publish("id-1", Complete([]string{}))

	rec := httptest.NewRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := Stream(ctx, rec, h, "id-1"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: processing-update") || !strings.Contains(body, "event: processing-complete") {
		t.Errorf("body = %q, want both events", body)
	}
	if ctx.Err() != nil {
		t.Error("Stream() returned only because the context expired")
	}
}
