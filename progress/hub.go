// Package progress carries upload progress events from the pipeline to the
// browser that started the upload.
package progress

import (
	"sync"
	"time"
)

const (
	EventUpdate   = "processing-update"
	EventComplete = "processing-complete"
	EventError    = "processing-error"
)

const (
	subscriberBuffer = 64
	// DefaultRetention is how long events for a correlation id are kept
	// for a subscriber that hasn't connected yet.
	DefaultRetention = time.Minute
)

// Event is a named progress message. Data is marshalled to JSON.
type Event struct {
	Name string
	Data any
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Name == EventComplete || e.Name == EventError
}

func Update(message string, index, total int) Event {
	data := map[string]any{"message": message}
	if total > 0 {
		data["index"] = index
		data["total"] = total
	}
	return Event{Name: EventUpdate, Data: data}
}

func Complete(results any) Event {
	return Event{Name: EventComplete, Data: map[string]any{"results": results}}
}

func Error(message string) Event {
	return Event{Name: EventError, Data: map[string]any{"message": message}}
}

// Publisher delivers events for a correlation id.
type Publisher interface {
	Publish(id string, ev Event)
}

type topic struct {
	subs    map[chan Event]struct{}
	backlog []Event
	timer   *time.Timer
}

// Hub fans events out to subscribers by correlation id. Events published
// before anyone subscribes are held for the retention period and replayed to
// the first subscriber.
type Hub struct {
	mu        sync.Mutex
	topics    map[string]*topic
	retention time.Duration
}

func NewHub(retention time.Duration) *Hub {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Hub{topics: make(map[string]*topic), retention: retention}
}

// Publish never blocks. When a buffer is full the oldest queued event is
// dropped to make room, so the newest event, and with it the terminal one,
// always gets through.
func (h *Hub) Publish(id string, ev Event) {
	if id == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(id)
	if len(t.subs) == 0 {
		if len(t.backlog) == subscriberBuffer {
			t.backlog = append(t.backlog[:0], t.backlog[1:]...)
		}
		t.backlog = append(t.backlog, ev)
	} else {
		for ch := range t.subs {
			deliver(ch, ev)
		}
	}

	h.expireLater(id, t)
}

// deliver sends ev on ch, discarding the oldest buffered events until it
// fits. Only publishers send on ch and they hold the hub lock, so the loop
// ends once the reader or the discard frees a slot.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel receiving events for id and a function that
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(id string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(id)
	ch := make(chan Event, subscriberBuffer)
	for _, ev := range t.backlog {
		ch <- ev
	}
	t.backlog = nil
	t.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
			if len(t.subs) == 0 && len(t.backlog) == 0 && h.topics[id] == t {
				if t.timer != nil {
					t.timer.Stop()
				}
				delete(h.topics, id)
			}
		})
	}

	return ch, cancel
}

// Topics returns the number of correlation ids currently tracked.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

// Close drops every topic and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, t := range h.topics {
		if t.timer != nil {
			t.timer.Stop()
		}
		for ch := range t.subs {
			close(ch)
			delete(t.subs, ch)
		}
		delete(h.topics, id)
	}
}

func (h *Hub) topic(id string) *topic {
	t, ok := h.topics[id]
	if !ok {
		t = &topic{subs: make(map[chan Event]struct{})}
		h.topics[id] = t
	}
	return t
}

// expireLater drops an unobserved topic once the retention period passes.
// Must be called with h.mu held.
func (h *Hub) expireLater(id string, t *topic) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if h.topics[id] == t && len(t.subs) == 0 {
			delete(h.topics, id)
		}
	})
}
