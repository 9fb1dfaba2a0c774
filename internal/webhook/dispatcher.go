// Package webhook forwards provider lifecycle events to HTTP endpoints. Each
// delivery is a signed JSON POST, retried with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/splitfeature/internal/provider"
	"github.com/TimurManjosov/splitfeature/internal/telemetry"
)

// Headers set on every delivery.
const (
	SignatureHeader = "X-Splitfeature-Signature"
	EventHeader     = "X-Splitfeature-Event"
	DeliveryHeader  = "X-Splitfeature-Delivery"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 100

	// maxResponseBodySize limits how much of the response body we keep (1KB)
	maxResponseBodySize = 1024

	defaultTimeout = 10 * time.Second
	defaultBackoff = time.Second
)

// Options configures a Dispatcher.
type Options struct {
	URLs []string
	// Secret signs payloads; empty sends them unsigned.
	Secret string
	// MaxRetries is the number of retries after a failed first attempt.
	MaxRetries int
	Timeout    time.Duration
	// Backoff is the delay before the first retry; it doubles on each attempt.
	Backoff time.Duration
	// Events restricts deliveries to these types. Empty means all.
	Events  []provider.EventType
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	// OnDelivery, when set, observes every attempt.
	OnDelivery func(Delivery)
}

// Payload is the JSON body of a delivery.
type Payload struct {
	ID    string         `json:"id"`
	Event provider.Event `json:"event"`
}

// Delivery describes one delivery attempt.
type Delivery struct {
	ID           string
	URL          string
	EventType    provider.EventType
	Attempt      int
	StatusCode   int
	ResponseBody string
	Err          string
	Duration     time.Duration
	Success      bool
}

// Dispatcher manages webhook event dispatching and delivery
type Dispatcher struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	queue     chan provider.Event
	closed    bool
	done      chan struct{}
	startOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher. Call Start to begin delivering.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: opts.Logger.With().Str("component", "webhook").Logger(),
		queue:  make(chan provider.Event, queueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing events from the queue
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() { go d.worker() })
}

// Forward dispatches every event read from src until src is closed.
func (d *Dispatcher) Forward(src <-chan provider.Event) {
	for ev := range src {
		d.Dispatch(ev)
	}
}

// Dispatch queues an event for delivery. It never blocks; events that do not
// match the filter or arrive while the queue is full are dropped.
func (d *Dispatcher) Dispatch(ev provider.Event) {
	if !d.matches(ev) {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
		d.logger.Debug().Str("event", string(ev.Type)).Int("queue_size", len(d.queue)).Msg("event queued")
	default:
		d.logger.Error().Str("event", string(ev.Type)).Int("queue_size", queueSize).Msg("queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered. When
// ctx ends first, pending retries are abandoned.
//
// Close is safe to call multiple times - subsequent calls are no-ops.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.Start() // drain even if never started

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) matches(ev provider.Event) bool {
	if len(d.opts.Events) == 0 {
		return true
	}
	for _, t := range d.opts.Events {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// worker processes events from the queue
func (d *Dispatcher) worker() {
	defer close(d.done)
	for ev := range d.queue {
		payload, err := json.Marshal(Payload{ID: uuid.NewString(), Event: ev})
		if err != nil {
			d.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to marshal payload")
			continue
		}
		for _, url := range d.opts.URLs {
			d.deliverWithRetry(url, ev.Type, payload)
		}
	}
}

// deliverWithRetry attempts to deliver payload to url, retrying failures.
func (d *Dispatcher) deliverWithRetry(url string, eventType provider.EventType, payload []byte) {
	deliveryID := uuid.NewString()
	var signature string
	if d.opts.Secret != "" {
		signature = Sign(payload, d.opts.Secret)
	}
	log := d.logger.With().Str("url", url).Str("event", string(eventType)).Str("delivery_id", deliveryID).Logger()

	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		del := d.attempt(url, eventType, deliveryID, signature, payload)
		del.Attempt = attempt + 1
		if d.opts.OnDelivery != nil {
			d.opts.OnDelivery(del)
		}

		if del.Success {
			d.opts.Metrics.ObserveWebhook(string(eventType), "success")
			log.Info().Int("status", del.StatusCode).Dur("duration", del.Duration).Int("attempt", del.Attempt).Msg("delivery succeeded")
			return
		}

		if attempt == d.opts.MaxRetries {
			d.opts.Metrics.ObserveWebhook(string(eventType), "failed")
			log.Warn().Int("status", del.StatusCode).Str("error", del.Err).Int("attempts", del.Attempt).Msg("delivery failed permanently")
			return
		}

		backoff := d.opts.Backoff << attempt
		d.opts.Metrics.ObserveWebhook(string(eventType), "retry")
		log.Debug().Int("status", del.StatusCode).Str("error", del.Err).Int("attempt", del.Attempt).Dur("retry_in", backoff).Msg("delivery failed")

		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			log.Warn().Msg("dispatcher closed, abandoning delivery")
			return
		}
	}
}

func (d *Dispatcher) attempt(url string, eventType provider.EventType, deliveryID, signature string, payload []byte) Delivery {
	del := Delivery{ID: deliveryID, URL: url, EventType: eventType}
	start := time.Now()

	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		del.Err = err.Error()
		return del
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(eventType))
	req.Header.Set(DeliveryHeader, deliveryID)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.client.Do(req)
	del.Duration = time.Since(start)
	if err != nil {
		del.Err = err.Error()
		return del
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	del.StatusCode = resp.StatusCode
	del.ResponseBody = string(body)
	del.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	return del
}
