// Package localhost implements a Split client backed by a local YAML file, the
// same shape as the Split SDKs' localhost mode. It serves fixed treatments per key,
// watches the file for changes and keeps tracked events in memory.
package localhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultTrackBuffer  = 1000
)

var eventTypeRegexp = regexp.MustCompile(`^[a-zA-Z0-9][-_.:a-zA-Z0-9]{0,79}$`)

// Options configures a Factory.
type Options struct {
	// ReadyTimeout bounds how long an unreadable file keeps the factory waiting before
	// SDK_READY_TIMED_OUT fires.
	ReadyTimeout time.Duration
	// Watch reloads the file when it changes.
	Watch bool
	// TrackBuffer caps the number of tracked events kept in memory.
	TrackBuffer int
	Logger      zerolog.Logger
}

// TrackedEvent is one event recorded through Track.
type TrackedEvent struct {
	ID          string         `json:"id" yaml:"id"`
	Key         string         `json:"key" yaml:"key"`
	TrafficType string         `json:"trafficType" yaml:"trafficType"`
	EventType   string         `json:"eventType" yaml:"eventType"`
	Value       *float64       `json:"value,omitempty" yaml:"value,omitempty"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Factory owns the loaded definitions and hands out per-key clients that share them.
type Factory struct {
	path    string
	opts    Options
	logger  zerolog.Logger
	emitter split.Emitter

	mu      sync.RWMutex
	defs    *Definitions
	status  split.Status
	tracked []TrackedEvent

	timeout *time.Timer
	watcher *watcher
	once    sync.Once
}

// NewFactory loads path and returns a factory. A file that exists but fails to
// parse leaves the factory not ready; it times out after opts.ReadyTimeout unless
// a valid version is written first (Watch must be enabled for that).
func NewFactory(path string, opts Options) (*Factory, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot open localhost file %q: %w", path, err)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.TrackBuffer <= 0 {
		opts.TrackBuffer = defaultTrackBuffer
	}

	f := &Factory{
		path:   path,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "localhost").Logger(),
	}

	defs, err := LoadFile(path)
	if err != nil {
		f.logger.Error().Err(err).Str("path", path).Msg("localhost file is invalid, waiting for a valid version")
		f.timeout = time.AfterFunc(opts.ReadyTimeout, f.timedOut)
	} else {
		f.defs = defs
		f.status.IsReady = true
		f.logger.Info().Str("path", path).Int("flags", len(defs.flags)).Msg("localhost file loaded")
	}

	if opts.Watch {
		w, err := newWatcher(path, f.reload, f.logger)
		if err != nil {
			return nil, err
		}
		f.watcher = w
	}
	return f, nil
}

// Client returns a client view bound to key.
func (f *Factory) Client(key string) (split.Client, error) {
	f.mu.RLock()
	destroyed := f.status.IsDestroyed
	f.mu.RUnlock()
	if destroyed {
		return nil, errors.New("localhost factory is destroyed")
	}
	return &Client{factory: f, key: key}, nil
}

// Destroy stops watching and drops all listeners. It is idempotent.
func (f *Factory) Destroy(context.Context) error {
	f.once.Do(func() {
		if f.timeout != nil {
			f.timeout.Stop()
		}
		if f.watcher != nil {
			f.watcher.Close()
		}
		f.mu.Lock()
		f.status.IsDestroyed = true
		f.mu.Unlock()
		f.emitter.Reset()
	})
	return nil
}

// Flags returns the flag names of the current definitions.
func (f *Factory) Flags() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.defs == nil {
		return nil
	}
	return f.defs.Flags()
}

// TrackedEvents returns a copy of the recorded events, oldest first.
func (f *Factory) TrackedEvents() []TrackedEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]TrackedEvent(nil), f.tracked...)
}

func (f *Factory) currentStatus() split.Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *Factory) timedOut() {
	f.mu.Lock()
	if f.status.IsReady || f.status.IsDestroyed {
		f.mu.Unlock()
		return
	}
	f.status.HasTimedOut = true
	f.mu.Unlock()

	f.logger.Warn().Dur("timeout", f.opts.ReadyTimeout).Msg("localhost file not ready in time")
	f.emitter.Emit(split.EventReadyTimedOut)
}

// reload re-reads the file. Unchanged content is ignored; the first valid load
// emits SDK_READY and later ones SDK_UPDATE.
func (f *Factory) reload() error {
	defs, err := LoadFile(f.path)
	if err != nil {
		f.logger.Warn().Err(err).Msg("failed to reload localhost file, keeping previous definitions")
		return err
	}

	f.mu.Lock()
	if f.status.IsDestroyed {
		f.mu.Unlock()
		return nil
	}
	if f.defs != nil && f.defs.Fingerprint == defs.Fingerprint {
		f.mu.Unlock()
		f.logger.Debug().Msg("localhost file content unchanged")
		return nil
	}
	firstLoad := !f.status.IsReady
	f.defs = defs
	f.status.IsReady = true
	f.mu.Unlock()

	if firstLoad {
		if f.timeout != nil {
			f.timeout.Stop()
		}
		f.logger.Info().Int("flags", len(defs.flags)).Msg("localhost file loaded")
		f.emitter.Emit(split.EventReady)
		return nil
	}
	f.logger.Info().Int("flags", len(defs.flags)).Msg("localhost file reloaded")
	f.emitter.Emit(split.EventUpdate)
	return nil
}

func (f *Factory) lookup(key, flag string) split.TreatmentResult {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.defs == nil || f.status.IsDestroyed {
		return split.TreatmentResult{Treatment: split.ControlTreatment}
	}
	return f.defs.Lookup(key, flag)
}

func (f *Factory) track(ev TrackedEvent) error {
	if ev.Key == "" {
		return errors.New("track: key must be a non-empty string")
	}
	if ev.TrafficType == "" {
		return errors.New("track: traffic type must be a non-empty string")
	}
	if !eventTypeRegexp.MatchString(ev.EventType) {
		return fmt.Errorf("track: event type %q must match %s", ev.EventType, eventTypeRegexp.String())
	}

	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.IsDestroyed {
		return errors.New("track: client is destroyed")
	}
	if len(f.tracked) >= f.opts.TrackBuffer {
		f.tracked = f.tracked[1:]
	}
	f.tracked = append(f.tracked, ev)
	f.logger.Debug().Str("id", ev.ID).Str("event", ev.EventType).Str("trafficType", ev.TrafficType).Msg("event tracked")
	return nil
}

// Client is a per-key view of a Factory.
type Client struct {
	factory *Factory
	key     string
}

// Key returns the identity the client was created for.
func (c *Client) Key() string { return c.key }

func (c *Client) Status() split.Status { return c.factory.currentStatus() }

func (c *Client) On(event split.EventType, handler func()) func() {
	return c.factory.emitter.On(event, handler)
}

// TreatmentWithConfig looks flag up for key, falling back to the bound key when key is empty.
func (c *Client) TreatmentWithConfig(key, flag string, _ split.Attributes) split.TreatmentResult {
	if key == "" {
		key = c.key
	}
	return c.factory.lookup(key, flag)
}

func (c *Client) Track(key, trafficType, eventType string, value *float64, properties map[string]any) error {
	if key == "" {
		key = c.key
	}
	return c.factory.track(TrackedEvent{
		Key:         key,
		TrafficType: trafficType,
		EventType:   eventType,
		Value:       value,
		Properties:  properties,
	})
}

// Destroy is a no-op for a single view; the factory owns the shared resources.
func (c *Client) Destroy(context.Context) error { return nil }
