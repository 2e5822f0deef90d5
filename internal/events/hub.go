// Package events fans out service lifecycle events to live subscribers and keeps
// a short backlog for clients that connect late.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the service.
const (
	TypeLoadCompleted   = "load.completed"
	TypeLoadFailed      = "load.failed"
	TypeCommandExecuted = "command.executed"
	TypeCommandFailed   = "command.failed"
)

const (
	defaultBacklog    = 128
	subscriberBufSize = 64
)

// Event is one published notification. Data is a JSON document.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory publisher. Safe for concurrent use.
type Hub struct {
	seq atomic.Int64

	mu      sync.Mutex
	backlog []Event
	head    int
	count   int
	subs    map[int]chan Event
	nextSub int
}

// NewHub creates a hub that retains the last backlog events.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, backlog),
		subs:    make(map[int]chan Event),
	}
}

// Publish records an event and offers it to every subscriber. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}
	ev := Event{
		ID:   h.seq.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.append(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return ev
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, subscriberBufSize)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Since returns retained events with an ID above lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.backlog[(h.head+i)%len(h.backlog)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// append must be called with h.mu held. The oldest event is overwritten when full.
func (h *Hub) append(ev Event) {
	size := len(h.backlog)
	if h.count < size {
		h.backlog[(h.head+h.count)%size] = ev
		h.count++
		return
	}
	h.backlog[h.head] = ev
	h.head = (h.head + 1) % size
}
