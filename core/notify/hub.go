package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-observer event buffer before drops.
const DefaultSubscriberBuffer = 16

// =============================================================================
// Subscriber
// =============================================================================

// Subscriber is one registered observer. Events arrive on C; a subscriber
// that stops draining has events dropped rather than blocking the hub.
type Subscriber struct {
	id string
	ch chan Event
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// C is the subscriber's event channel. Closed on Unsubscribe and hub Close.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// =============================================================================
// Hub
// =============================================================================

// Hub fans events out to all subscribers. Delivery is per-observer
// isolated: each subscriber has its own buffered channel, and a full
// buffer means that subscriber misses the event while everyone else still
// receives it.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscriber
	buffer  int
	closed  bool
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new observer and returns its handle.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		return sub
	}

	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes an observer and closes its channel. Unknown ids are
// ignored, so disconnect paths can call this unconditionally.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}

	delete(h.subs, id)
	close(sub.ch)
}

// Publish delivers an event to every subscriber. Never blocks: a
// subscriber whose buffer is full is skipped and counted.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
			h.logger.Warn("dropped event for slow subscriber",
				"subscriber", sub.id, "event_type", string(event.Type))
		}
	}
}

// SubscriberCount returns the number of registered observers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the total number of events dropped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unregisters every subscriber and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
