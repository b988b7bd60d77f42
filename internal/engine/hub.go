package engine

import "sync"

const eventBufferSize = 64

// Hub fans engine events out to subscribers. Sends never block; a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscription. Subscribing to a closed hub
// returns an already-closed subscription.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub:  h,
		ch:   make(chan Event, eventBufferSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closeLocked()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every live subscription.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unregisters and closes all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		s.closeLocked()
	}
}

// Subscription is a scoped event stream. Close unregisters it; after Close
// returns no further events are delivered.
type Subscription struct {
	hub  *Hub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// Events returns the event channel. It is closed when the subscription is.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s)
	s.closeLocked()
}

// closeLocked must be called with the hub lock held.
func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}
