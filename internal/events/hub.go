// Package events provides a small typed publish/subscribe hub.
//
// Components that fan events out to an unknown number of listeners (the
// network monitor, the controller's UI stream) use a [Hub] instead of ad-hoc
// listener slices. Subscribe returns a disposer so tests and session teardown
// can deterministically remove listeners.
package events

import "sync"

// entry pairs a listener with its registration id.
type entry[T any] struct {
	id int
	fn func(T)
}

// Hub fans values of type T out to subscribed listeners. Listeners are
// invoked synchronously, in subscription order, on the publishing goroutine.
// Listener functions must not block.
//
// The zero value is ready to use. Hub is safe for concurrent use.
type Hub[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners []entry[T]
}

// Subscribe registers fn and returns a disposer that removes it. The disposer
// is idempotent.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners = append(h.listeners, entry[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.listeners {
				if e.id == id {
					h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every current listener. Listeners subscribed while a
// publish is in flight do not receive v.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	fns := make([]func(T), len(h.listeners))
	for i, e := range h.listeners {
		fns[i] = e.fn
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of active listeners.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
