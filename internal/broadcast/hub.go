// Package broadcast fans processed scan outcomes out to live observers.
// Delivery is best-effort: observers see outcomes published while they are
// subscribed, in processing order, and a subscriber that cannot keep up is
// disconnected rather than awaited.
package broadcast

import (
	"sync"

	"rfidattend/internal/attendance"
)

// Hub is the publish/subscribe registry. Publish never blocks on a
// subscriber: each subscription has a bounded buffer and overflows are
// resolved by dropping the subscriber.
type Hub struct {
	buffer int
	onDrop func()

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one observer's handle. Events is closed when the
// subscriber is dropped or Close is called.
type Subscription struct {
	hub  *Hub
	ch   chan attendance.Outcome
	once sync.Once
}

// NewHub creates a hub whose subscribers buffer up to buffer outcomes.
// onDrop, when non-nil, is invoked once per dropped subscriber.
func NewHub(buffer int, onDrop func()) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer: buffer,
		onDrop: onDrop,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new observer. Outcomes published before the call are
// not replayed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub: h,
		ch:  make(chan attendance.Outcome, h.buffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers out to every current subscriber. A subscriber whose
// buffer is full has stalled; it is disconnected and the publish proceeds.
func (h *Hub) Publish(out attendance.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- out:
		default:
			delete(h.subs, sub)
			sub.once.Do(func() { close(sub.ch) })
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Events streams outcomes to the observer.
func (s *Subscription) Events() <-chan attendance.Outcome {
	return s.ch
}

// Close unsubscribes. Safe to call more than once and after the hub has
// already dropped the subscription.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	_, present := s.hub.subs[s]
	delete(s.hub.subs, s)
	if present {
		s.once.Do(func() { close(s.ch) })
	}
	s.hub.mu.Unlock()
}
