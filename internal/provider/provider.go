// Package provider adapts a Split client to the flag-evaluation provider contract.
//
// A Provider resolves typed flag values from Split treatments, forwards tracking
// calls, reconciles client identity when the evaluation context changes, and
// re-emits the client's lifecycle notifications as provider events.
//
// Resolution rules:
//
//	boolean  "on"/"true" → true, "off"/"false" → false (case-insensitive), else PARSE_ERROR
//	string   the treatment as-is
//	number   strconv.ParseFloat of the treatment, else PARSE_ERROR
//	integer  number that is integral, else PARSE_ERROR
//	object   JSON object or array decoded from the treatment, else PARSE_ERROR
//
// The "control" treatment always fails with FLAG_NOT_FOUND. Successful resolutions
// carry reason TARGETING_MATCH, variant = treatment and metadata["config"] set to the
// treatment's configuration string ("" when absent).
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/splitfeature/internal/split"
	"github.com/TimurManjosov/splitfeature/internal/telemetry"
)

const (
	providerName       = "split"
	defaultTrafficType = "user"
	defaultEventBuffer = 16
)

// ErrTimedOut is returned when the Split client reports a ready timeout while
// the provider is waiting for it.
var ErrTimedOut = errors.New("split SDK timed out")

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.logger = l.With().Str("provider", providerName).Logger() }
}

// WithTrafficType overrides the initial traffic type ("user").
func WithTrafficType(tt string) Option {
	return func(p *Provider) {
		if tt != "" {
			p.trafficType = tt
		}
	}
}

// WithMetrics records evaluations, tracking calls and events in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// WithTracerProvider sets where resolution and tracking spans go. The default is
// the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Provider) {
		if tp != nil {
			p.tracer = tp.Tracer(telemetry.TracerName)
		}
	}
}

// WithRequireTargetingKey controls whether evaluations without a targeting key fail
// with TARGETING_KEY_MISSING. Enabled by default.
func WithRequireTargetingKey(required bool) Option {
	return func(p *Provider) { p.requireTargetingKey = required }
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.eventBuffer = n
		}
	}
}

// Provider wraps a Split factory. It is safe for concurrent use.
type Provider struct {
	factory             split.Factory
	logger              zerolog.Logger
	metrics             *telemetry.Metrics
	tracer              trace.Tracer
	requireTargetingKey bool
	eventBuffer         int

	mu          sync.RWMutex
	binding     *binding
	key         string
	trafficType string
	state       State
	closed      bool

	events    chan Event
	closeOnce sync.Once
}

// binding ties a client to the listeners the provider registered on it.
type binding struct {
	client      split.Client
	unsubs      []func()
	readyOnce   sync.Once
	timeoutOnce sync.Once
}

// New creates a provider around the factory's default client and starts bridging
// its lifecycle events. If the client is already ready, PROVIDER_READY is on the
// event channel when New returns.
func New(factory split.Factory, opts ...Option) (*Provider, error) {
	if factory == nil {
		return nil, errors.New("split factory is required")
	}

	p := &Provider{
		factory:             factory,
		logger:              zerolog.Nop(),
		tracer:              otel.Tracer(telemetry.TracerName),
		requireTargetingKey: true,
		eventBuffer:         defaultEventBuffer,
		trafficType:         defaultTrafficType,
		state:               StateNotReady,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.events = make(chan Event, p.eventBuffer)

	c, err := factory.Client("")
	if err != nil {
		return nil, fmt.Errorf("create split client: %w", err)
	}
	p.bind(c)
	return p, nil
}

// Metadata describes the provider.
func (p *Provider) Metadata() Metadata {
	return Metadata{Name: providerName}
}

// Events returns the channel of lifecycle events. It is closed by Close.
func (p *Provider) Events() <-chan Event {
	return p.events
}

// Status returns the current readiness state.
func (p *Provider) Status() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// TrafficType returns the traffic type currently in effect.
func (p *Provider) TrafficType() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trafficType
}

// Init adopts the identity carried by evalCtx and waits until the client is ready.
// It fails with ErrTimedOut if the client times out first, or with ctx.Err().
func (p *Provider) Init(ctx context.Context, evalCtx EvaluationContext) error {
	p.mu.RLock()
	current := EvaluationContext{TargetingKey: p.key}
	p.mu.RUnlock()

	if err := p.OnContextChange(ctx, current, evalCtx); err != nil {
		return err
	}
	return awaitReady(ctx, p.currentClient())
}

// OnContextChange reconciles the provider with a new static evaluation context.
// A changed traffic type is adopted. A changed targeting key swaps in a client for
// the new key and blocks until it is ready, timed out, or ctx is done.
func (p *Provider) OnContextChange(ctx context.Context, oldCtx, newCtx EvaluationContext) error {
	newKey := newCtx.TargetingKey()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("provider is closed")
	}
	if tt := newCtx.TrafficType(); tt != "" && tt != p.trafficType {
		p.logger.Debug().Str("from", p.trafficType).Str("to", tt).Msg("traffic type changed")
		p.trafficType = tt
	}
	if newKey == "" || newKey == oldCtx.TargetingKey() {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	c, err := p.factory.Client(newKey)
	if err != nil {
		return fmt.Errorf("create split client for key: %w", err)
	}

	p.mu.Lock()
	p.key = newKey
	wasReady := p.state == StateReady
	p.state = StateNotReady
	p.mu.Unlock()
	p.logger.Debug().Msg("targeting key changed, waiting for client")

	p.bindWith(c, wasReady)
	return awaitReady(ctx, c)
}

// Close releases the listeners and destroys the factory. The event channel is closed.
func (p *Provider) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		if p.binding != nil {
			for _, unsub := range p.binding.unsubs {
				unsub()
			}
		}
		close(p.events)
		p.mu.Unlock()

		if derr := p.factory.Destroy(ctx); derr != nil {
			err = fmt.Errorf("destroy split factory: %w", derr)
		}
	})
	return err
}

// bind makes c the active client and bridges its notifications. Listeners on the
// previously active client are removed.
func (p *Provider) bind(c split.Client) {
	p.bindWith(c, false)
}

// bindWith is bind for an identity swap. When the provider was already READY and c
// is ready too, the state is restored without emitting a second PROVIDER_READY.
func (p *Provider) bindWith(c split.Client, wasReady bool) {
	b := &binding{client: c}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if prev := p.binding; prev != nil {
		for _, unsub := range prev.unsubs {
			unsub()
		}
	}
	p.binding = b
	p.mu.Unlock()

	// Subscribe before reading status so a notification racing the check is not lost;
	// the once guards keep Ready and Error from being emitted twice.
	unsubs := make([]func(), 0, len(eventBridge))
	for _, m := range eventBridge {
		unsubs = append(unsubs, c.On(m.source, p.forward(b, m.target)))
	}
	p.mu.Lock()
	b.unsubs = unsubs
	p.mu.Unlock()

	status := c.Status()
	switch {
	case status.IsReady && wasReady:
		b.readyOnce.Do(func() { p.restoreReady(b) })
	case status.IsReady:
		p.forward(b, EventReady)()
	case status.HasTimedOut:
		p.forward(b, EventError)()
	case status.IsReadyFromCache:
		p.forward(b, EventStale)()
	}
}

// forward returns the handler that re-emits ev for the client held by b.
func (p *Provider) forward(b *binding, ev EventType) func() {
	return func() {
		switch ev {
		case EventReady:
			b.readyOnce.Do(func() { p.emit(b, ev) })
		case EventError:
			b.timeoutOnce.Do(func() { p.emit(b, ev) })
		default:
			p.emit(b, ev)
		}
	}
}

func (p *Provider) emit(b *binding, ev EventType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// notifications from a client that has been swapped out are stale
	if p.closed || p.binding != b {
		return
	}
	p.state = nextState(p.state, ev)

	msg := eventMessage(ev)
	switch ev {
	case EventError:
		p.logger.Warn().Msg(msg)
	default:
		p.logger.Info().Msg(msg)
	}
	p.metrics.ObserveProviderEvent(string(ev))

	select {
	case p.events <- Event{Type: ev, ProviderName: providerName, Message: msg, Time: time.Now().UTC()}:
	default:
		p.logger.Warn().Str("event", string(ev)).Msg("event channel full, dropping event")
	}
}

func (p *Provider) restoreReady(b *binding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.binding != b {
		return
	}
	p.state = StateReady
}

func (p *Provider) currentClient() split.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.binding.client
}

// awaitReady blocks until c is ready (nil), has timed out (ErrTimedOut) or ctx is done.
func awaitReady(ctx context.Context, c split.Client) error {
	done := make(chan error, 1)
	signal := func(err error) func() {
		return func() {
			select {
			case done <- err:
			default:
			}
		}
	}
	unReady := c.On(split.EventReady, signal(nil))
	defer unReady()
	unTimeout := c.On(split.EventReadyTimedOut, signal(ErrTimedOut))
	defer unTimeout()

	status := c.Status()
	if status.IsReady {
		return nil
	}
	if status.HasTimedOut {
		return ErrTimedOut
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
