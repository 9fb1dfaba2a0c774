package split

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestEmitterCallsRegisteredHandlers(t *testing.T) {
	var e Emitter
	var ready, update int32

	e.On(EventReady, func() { atomic.AddInt32(&ready, 1) })
	e.On(EventReady, func() { atomic.AddInt32(&ready, 1) })
	e.On(EventUpdate, func() { atomic.AddInt32(&update, 1) })

	e.Emit(EventReady)

	if got := atomic.LoadInt32(&ready); got != 2 {
		t.Errorf("Expected 2 ready handler calls, got %d", got)
	}
	if got := atomic.LoadInt32(&update); got != 0 {
		t.Errorf("Expected no update handler calls, got %d", got)
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	var e Emitter
	calls := 0
	unsub := e.On(EventUpdate, func() { calls++ })

	e.Emit(EventUpdate)
	unsub()
	unsub() // idempotent
	e.Emit(EventUpdate)

	if calls != 1 {
		t.Errorf("Expected 1 call before unsubscribe, got %d", calls)
	}
}

func TestEmitterHandlerMayRegister(t *testing.T) {
	var e Emitter
	nested := 0
	e.On(EventReady, func() {
		e.On(EventUpdate, func() { nested++ })
	})

	e.Emit(EventReady)
	e.Emit(EventUpdate)

	if nested != 1 {
		t.Errorf("Expected handler registered from a handler to fire once, got %d", nested)
	}
}

func TestEmitterReset(t *testing.T) {
	var e Emitter
	called := false
	e.On(EventReady, func() { called = true })
	e.Reset()
	e.Emit(EventReady)

	if called {
		t.Error("Expected no handlers after Reset")
	}
}

func TestStatusOperational(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"not ready", Status{}, false},
		{"ready", Status{IsReady: true}, true},
		{"ready from cache", Status{IsReadyFromCache: true}, true},
		{"timed out", Status{HasTimedOut: true}, false},
		{"destroyed", Status{IsReady: true, IsDestroyed: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Operational(); got != tt.want {
				t.Errorf("Operational() = %v, want %v", got, tt.want)
			}
		})
	}
}

type nopClient struct{ destroyed bool }

func (c *nopClient) Status() Status { return Status{IsReady: true} }

func (c *nopClient) On(EventType, func()) func() { return func() {} }

func (c *nopClient) TreatmentWithConfig(_, _ string, _ Attributes) TreatmentResult {
	return TreatmentResult{Treatment: ControlTreatment}
}

func (c *nopClient) Track(_, _, _ string, _ *float64, _ map[string]any) error { return nil }

func (c *nopClient) Destroy(context.Context) error {
	c.destroyed = true
	return nil
}

func TestStaticFactory(t *testing.T) {
	c := &nopClient{}
	f := NewStaticFactory(c)

	for _, key := range []string{"", "user-1", "user-2"} {
		got, err := f.Client(key)
		if err != nil {
			t.Fatalf("Client(%q) returned error: %v", key, err)
		}
		if got != c {
			t.Errorf("Client(%q) did not return the shared client", key)
		}
	}

	if err := f.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	if !c.destroyed {
		t.Error("Expected Destroy to destroy the shared client")
	}
}
