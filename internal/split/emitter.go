package split

import (
	"sync"
)

// Emitter is a listener registry keyed by EventType. The zero value is ready to use.
type Emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[EventType]map[int]func()
}

// On registers handler for event and returns its unsubscribe func.
func (e *Emitter) On(event EventType, handler func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = make(map[EventType]map[int]func())
	}
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]func())
	}
	id := e.nextID
	e.nextID++
	e.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers[event], id)
			e.mu.Unlock()
		})
	}
}

// Emit calls every handler registered for event. Handlers run outside the lock
// so they may register or remove listeners.
func (e *Emitter) Emit(event EventType) {
	e.mu.Lock()
	hs := make([]func(), 0, len(e.handlers[event]))
	for _, h := range e.handlers[event] {
		hs = append(hs, h)
	}
	e.mu.Unlock()

	for _, h := range hs {
		h()
	}
}

// Reset drops every registered handler.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.handlers = nil
	e.mu.Unlock()
}
