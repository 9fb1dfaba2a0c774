// Package splitsdk adapts the Split Go SDK to the split.Client contract.
//
// The Go SDK is server-side: one client evaluates any key, so every Client(key)
// call returns the same shared client. The SDK has no change notifications, so
// SDK_UPDATE is never emitted.
package splitsdk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/splitio/go-client/v6/splitio/client"
	"github.com/splitio/go-client/v6/splitio/conf"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

const (
	defaultReadyTimeout = 10 * time.Second
	recoveryInterval    = time.Second
)

// Options configures a Factory.
type Options struct {
	// ReadyTimeout bounds the initial BlockUntilReady wait.
	ReadyTimeout time.Duration
	// Config overrides the SDK configuration; nil uses conf.Default().
	Config *conf.SplitSdkConfig
	Logger zerolog.Logger
}

// sdkClient is the subset of *client.SplitClient the adapter uses.
type sdkClient interface {
	BlockUntilReady(timer int) error
	TreatmentWithConfig(key interface{}, featureFlagName string, attributes map[string]interface{}) client.TreatmentResult
	Track(key string, trafficType string, eventType string, value interface{}, properties map[string]interface{}) error
	Destroy()
}

var _ sdkClient = (*client.SplitClient)(nil)

// readyChecker reports SDK readiness; *client.SplitFactory exposes it, the client does not.
type readyChecker interface {
	IsReady() bool
}

var _ readyChecker = (*client.SplitFactory)(nil)

// Factory owns the SDK client. Destroying the SDK client also destroys the SDK factory.
type Factory struct {
	client *Client
}

// NewFactory starts the SDK with apiKey. Readiness is awaited in the background.
func NewFactory(apiKey string, opts Options) (*Factory, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = conf.Default()
	}
	sdk, err := client.NewSplitFactory(apiKey, cfg)
	if err != nil {
		return nil, fmt.Errorf("create split sdk factory: %w", err)
	}
	return newFactory(sdk.Client(), sdk, opts), nil
}

func newFactory(c sdkClient, ready readyChecker, opts Options) *Factory {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	wrapped := &Client{
		sdk:     c,
		ready:   ready,
		logger:  opts.Logger.With().Str("component", "splitsdk").Logger(),
		closeCh: make(chan struct{}),
	}
	go wrapped.awaitReady(opts.ReadyTimeout)
	return &Factory{client: wrapped}
}

// Client returns the shared client; key is supplied per call instead.
func (f *Factory) Client(string) (split.Client, error) {
	if f.client.Status().IsDestroyed {
		return nil, fmt.Errorf("split sdk factory is destroyed")
	}
	return f.client, nil
}

// Destroy shuts the SDK down.
func (f *Factory) Destroy(ctx context.Context) error {
	return f.client.Destroy(ctx)
}

// Client wraps the SDK client and derives lifecycle events from BlockUntilReady.
type Client struct {
	split.Emitter

	sdk    sdkClient
	ready  readyChecker
	logger zerolog.Logger

	mu      sync.RWMutex
	status  split.Status
	closeCh chan struct{}
	once    sync.Once
}

func (c *Client) awaitReady(timeout time.Duration) {
	seconds := int(math.Ceil(timeout.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	err := c.sdk.BlockUntilReady(seconds)
	if err == nil {
		c.markReady()
		return
	}
	c.logger.Warn().Err(err).Dur("timeout", timeout).Msg("split sdk not ready in time")

	c.mu.Lock()
	if c.status.IsDestroyed {
		c.mu.Unlock()
		return
	}
	c.status.HasTimedOut = true
	c.mu.Unlock()
	c.Emit(split.EventReadyTimedOut)

	// the SDK keeps synchronizing after a timeout; report when it catches up
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if c.ready.IsReady() {
				c.markReady()
				return
			}
		}
	}
}

func (c *Client) markReady() {
	c.mu.Lock()
	if c.status.IsDestroyed {
		c.mu.Unlock()
		return
	}
	c.status.IsReady = true
	c.mu.Unlock()

	c.logger.Info().Msg("split sdk ready")
	c.Emit(split.EventReady)
}

func (c *Client) Status() split.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) TreatmentWithConfig(key, flag string, attributes split.Attributes) split.TreatmentResult {
	res := c.sdk.TreatmentWithConfig(key, flag, attributes)
	return split.TreatmentResult{Treatment: res.Treatment, Config: res.Config}
}

func (c *Client) Track(key, trafficType, eventType string, value *float64, properties map[string]any) error {
	var v interface{}
	if value != nil {
		v = *value
	}
	return c.sdk.Track(key, trafficType, eventType, v, properties)
}

// Destroy stops the SDK client. It is idempotent.
func (c *Client) Destroy(context.Context) error {
	c.once.Do(func() {
		close(c.closeCh)
		c.mu.Lock()
		c.status.IsDestroyed = true
		c.mu.Unlock()
		c.Reset()
		c.sdk.Destroy()
	})
	return nil
}
