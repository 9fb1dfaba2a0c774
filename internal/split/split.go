// Package split defines the contract of the Split client that the provider wraps.
// Implementations live in internal/localhost (file-backed) and internal/splitsdk
// (the Split Go SDK).
package split

import (
	"context"
)

// ControlTreatment is returned when a flag is unknown or cannot be evaluated.
const ControlTreatment = "control"

// EventType names a lifecycle notification emitted by a client.
type EventType string

const (
	EventReady          EventType = "SDK_READY"
	EventReadyFromCache EventType = "SDK_READY_FROM_CACHE"
	EventReadyTimedOut  EventType = "SDK_READY_TIMED_OUT"
	EventUpdate         EventType = "SDK_UPDATE"
)

// Attributes are the evaluation attributes passed to a treatment lookup.
type Attributes map[string]any

// Status is a point-in-time view of client readiness.
type Status struct {
	IsReady          bool
	IsReadyFromCache bool
	HasTimedOut      bool
	IsDestroyed      bool
}

// Operational reports whether treatments can be served from the client.
func (s Status) Operational() bool {
	return !s.IsDestroyed && (s.IsReady || s.IsReadyFromCache)
}

// TreatmentResult is a treatment name plus its optional configuration string.
type TreatmentResult struct {
	Treatment string
	Config    *string
}

// Client is a Split client. Lookups are local and non-blocking.
type Client interface {
	// Status reports the current readiness of the client.
	Status() Status

	// On registers handler for event and returns a func that removes it.
	On(event EventType, handler func()) (unsubscribe func())

	// TreatmentWithConfig evaluates flag for key with the given attributes.
	// Unknown flags yield ControlTreatment.
	TreatmentWithConfig(key, flag string, attributes Attributes) TreatmentResult

	// Track records an event of eventType for key under trafficType.
	// value may be nil.
	Track(key, trafficType, eventType string, value *float64, properties map[string]any) error

	// Destroy releases the client.
	Destroy(ctx context.Context) error
}

// Factory hands out clients bound to an identity and owns their shared resources.
type Factory interface {
	// Client returns a client for key. An empty key returns the default client.
	Client(key string) (Client, error)

	// Destroy tears down every client produced by the factory.
	Destroy(ctx context.Context) error
}

type staticFactory struct {
	client Client
}

// NewStaticFactory returns a Factory that serves c for every key.
func NewStaticFactory(c Client) Factory {
	return &staticFactory{client: c}
}

func (f *staticFactory) Client(string) (Client, error) { return f.client, nil }

func (f *staticFactory) Destroy(ctx context.Context) error { return f.client.Destroy(ctx) }
