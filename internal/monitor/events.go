package monitor

import (
	"context"
	"sync"
)

// Event types published to UI subscribers
const (
	EventUpdate = "update"
	EventError  = "error"
	EventStale  = "stale"
)

// Event is one notification for the UI.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block the publisher.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped uint64
}

// NewHub creates a hub; buffer is the per-subscriber queue length.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events that is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were dropped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
