// Package splittest provides an in-memory split.Client for tests.
package splittest

import (
	"context"
	"sync"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

// TrackCall records the arguments of one Track call.
type TrackCall struct {
	Key         string
	TrafficType string
	EventType   string
	Value       *float64
	Properties  map[string]any
}

// LookupCall records the arguments of one TreatmentWithConfig call.
type LookupCall struct {
	Key        string
	Flag       string
	Attributes split.Attributes
}

// Client is a scripted split.Client. Unknown flags return the control treatment.
type Client struct {
	split.Emitter

	mu         sync.Mutex
	status     split.Status
	treatments map[string]split.TreatmentResult
	lookups    []LookupCall
	tracks     []TrackCall
	trackErr   error
	destroyed  bool
}

// NewClient returns a client with the given readiness.
func NewClient(status split.Status) *Client {
	return &Client{status: status, treatments: make(map[string]split.TreatmentResult)}
}

// NewReadyClient returns a client that is already ready.
func NewReadyClient() *Client {
	return NewClient(split.Status{IsReady: true})
}

// SetTreatment scripts the result for flag. An empty config means no config.
func (c *Client) SetTreatment(flag, treatment, config string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := split.TreatmentResult{Treatment: treatment}
	if config != "" {
		cfg := config
		res.Config = &cfg
	}
	c.treatments[flag] = res
	return c
}

// SetTrackError makes subsequent Track calls fail with err.
func (c *Client) SetTrackError(err error) {
	c.mu.Lock()
	c.trackErr = err
	c.mu.Unlock()
}

// SetStatus replaces the status without emitting anything.
func (c *Client) SetStatus(s split.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// BecomeReady marks the client ready and emits SDK_READY.
func (c *Client) BecomeReady() {
	c.mu.Lock()
	c.status.IsReady = true
	c.mu.Unlock()
	c.Emit(split.EventReady)
}

// BecomeReadyFromCache marks the client ready from cache and emits SDK_READY_FROM_CACHE.
func (c *Client) BecomeReadyFromCache() {
	c.mu.Lock()
	c.status.IsReadyFromCache = true
	c.mu.Unlock()
	c.Emit(split.EventReadyFromCache)
}

// TimeOut marks the client timed out and emits SDK_READY_TIMED_OUT.
func (c *Client) TimeOut() {
	c.mu.Lock()
	c.status.HasTimedOut = true
	c.mu.Unlock()
	c.Emit(split.EventReadyTimedOut)
}

// Update emits SDK_UPDATE.
func (c *Client) Update() {
	c.Emit(split.EventUpdate)
}

// Lookups returns the recorded treatment lookups.
func (c *Client) Lookups() []LookupCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LookupCall(nil), c.lookups...)
}

// Tracks returns the recorded Track calls.
func (c *Client) Tracks() []TrackCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TrackCall(nil), c.tracks...)
}

// Destroyed reports whether Destroy was called.
func (c *Client) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Client) Status() split.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.IsDestroyed = c.destroyed
	return s
}

func (c *Client) TreatmentWithConfig(key, flag string, attributes split.Attributes) split.TreatmentResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups = append(c.lookups, LookupCall{Key: key, Flag: flag, Attributes: attributes})
	if res, ok := c.treatments[flag]; ok {
		return res
	}
	return split.TreatmentResult{Treatment: split.ControlTreatment}
}

func (c *Client) Track(key, trafficType, eventType string, value *float64, properties map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackErr != nil {
		return c.trackErr
	}
	c.tracks = append(c.tracks, TrackCall{
		Key:         key,
		TrafficType: trafficType,
		EventType:   eventType,
		Value:       value,
		Properties:  properties,
	})
	return nil
}

func (c *Client) Destroy(context.Context) error {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.Reset()
	return nil
}

// Factory serves a scripted client per key. The client for "" is the default.
type Factory struct {
	mu        sync.Mutex
	clients   map[string]*Client
	newClient func(key string) *Client
	requested []string
	destroyed bool
}

// NewFactory returns a factory whose default client is def. Clients for other keys
// are created with newClient on first request.
func NewFactory(def *Client, newClient func(key string) *Client) *Factory {
	return &Factory{
		clients:   map[string]*Client{"": def},
		newClient: newClient,
	}
}

func (f *Factory) Client(key string) (split.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, key)
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c := f.newClient(key)
	f.clients[key] = c
	return c, nil
}

// ClientFor returns the client created for key, or nil.
func (f *Factory) ClientFor(key string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[key]
}

// Requested returns the keys passed to Client, in order.
func (f *Factory) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

// Destroyed reports whether Destroy was called.
func (f *Factory) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *Factory) Destroy(ctx context.Context) error {
	f.mu.Lock()
	clients := make([]*Client, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.destroyed = true
	f.mu.Unlock()

	for _, c := range clients {
		_ = c.Destroy(ctx)
	}
	return nil
}
