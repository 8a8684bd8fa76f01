// Package notify is a small typed observer list.
package notify

import "sync"

// Hub fans events out to subscribers synchronously, in subscription order.
// Emit never holds the hub lock while calling subscribers, so a subscriber
// may unsubscribe itself or subscribe others.
type Hub[E any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[E]
}

type subscriber[E any] struct {
	id int
	fn func(E)
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (h *Hub[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs = append(h.subs, subscriber[E]{id: id, fn: fn})
	h.mu.Unlock()
	return func() { h.remove(id) }
}

func (h *Hub[E]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			// copy so an Emit iterating the old slice is unaffected
			subs := make([]subscriber[E], 0, len(h.subs)-1)
			subs = append(subs, h.subs[:i]...)
			h.subs = append(subs, h.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every current subscriber.
func (h *Hub[E]) Emit(ev E) {
	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the number of subscribers.
func (h *Hub[E]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
