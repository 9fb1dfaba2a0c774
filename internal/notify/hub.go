// Package notify fans provider events out to any number of listeners.
package notify

import (
	"sync"
)

// Hub delivers published values to every subscriber. Slow subscribers miss
// values instead of blocking the publisher. The zero value is not usable; call New.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	buffer int
	closed bool
}

// New returns a hub whose subscriber channels hold up to buffer values.
func New[T any](buffer int) *Hub[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub[T]{subs: make(map[chan T]struct{}), buffer: buffer}
}

// Subscribe registers a listener and returns its channel and an unsubscribe func.
// Subscribing to a closed hub returns an already closed channel.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, h.buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// Publish notifies all listeners (non-blocking).
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- v:
		default: // if client is slow, skip instead of blocking
		}
	}
	h.mu.Unlock()
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later Publish calls are dropped.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan T]struct{})
}

// Pipe publishes every value received from src until src is closed.
func (h *Hub[T]) Pipe(src <-chan T) {
	for v := range src {
		h.Publish(v)
	}
}
