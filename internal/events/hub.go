// Package events fans lifecycle and progress events out to live subscribers
// (SSE clients) and keeps a short replay buffer for late joiners.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mattjoyce/switchboard/internal/progress"
)

// Event types published by the host.
const (
	TypeProgress = "progress"
	TypeLoad     = "load"
	TypeCall     = "call"
	TypeDialog   = "dialog"
	TypeShutdown = "shutdown"
)

const (
	defaultCapacity = 256
	subscriberQueue = 128
)

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Filter selects event types. The zero Filter matches everything.
type Filter map[string]struct{}

// NewFilter builds a Filter from type names; empty names are ignored.
func NewFilter(types ...string) Filter {
	f := Filter{}
	for _, t := range types {
		if t != "" {
			f[t] = struct{}{}
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// Match reports whether eventType passes the filter.
func (f Filter) Match(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[eventType]
	return ok
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-memory pub/sub with a ring buffer for late clients. Event ids
// are assigned under the hub lock, so the ring and every subscriber see them
// in increasing order.
type Hub struct {
	mu     sync.Mutex
	lastID int64
	ring   []Event
	head   int // index of the oldest event
	count  int

	subs    map[int]*subscriber
	nextSub int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]*subscriber),
	}
}

// Publish marshals data as the event payload. Unmarshalable data is sent as {}.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.record(ev)

	for _, sub := range h.subs {
		if !sub.filter.Match(eventType) {
			continue
		}
		// Slow subscribers miss events rather than stall a load.
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Emit makes the hub a progress.Sink.
func (h *Hub) Emit(ev progress.Event) {
	h.Publish(TypeProgress, ev)
}

// Subscribe returns a channel of future events whose type is in types (all
// types when none are given) and a cancel func that closes it. Cancel is
// idempotent.
func (h *Hub) Subscribe(types ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberQueue), filter: NewFilter(types...)}

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// SnapshotSince returns buffered events newer than lastID, oldest first,
// restricted to types when any are given.
func (h *Hub) SnapshotSince(lastID int64, types ...string) []Event {
	filter := NewFilter(types...)

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := range h.count {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID && filter.Match(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) record(ev Event) {
	n := len(h.ring)
	if h.count < n {
		h.ring[(h.head+h.count)%n] = ev
		h.count++
		return
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % n
}
