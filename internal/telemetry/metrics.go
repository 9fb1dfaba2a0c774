package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for evaluations, tracking, provider events and HTTP.
// All methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	evaluations    *prometheus.CounterVec
	tracks         *prometheus.CounterVec
	providerEvents *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	httpReqs       *prometheus.CounterVec
	httpDur        *prometheus.HistogramVec

	SSEClients prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flag_evaluations_total",
				Help: "Total flag evaluations by value type, reason and error code",
			},
			[]string{"type", "reason", "error_code"},
		),
		tracks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track_events_total",
				Help: "Total tracking calls by outcome",
			},
			[]string{"outcome"},
		),
		providerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_events_total",
				Help: "Provider lifecycle events emitted",
			},
			[]string{"event"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Webhook delivery attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sse_clients",
			Help: "Number of currently connected event stream clients",
		}),
	}
	reg.MustRegister(m.evaluations, m.tracks, m.providerEvents, m.webhooks, m.httpReqs, m.httpDur, m.SSEClients)
	return m
}

// ObserveEvaluation counts one evaluation.
func (m *Metrics) ObserveEvaluation(valueType, reason, errorCode string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(valueType, reason, errorCode).Inc()
}

// ObserveTrack counts one tracking call; outcome is "ok" or an error code.
func (m *Metrics) ObserveTrack(outcome string) {
	if m == nil {
		return
	}
	m.tracks.WithLabelValues(outcome).Inc()
}

// ObserveProviderEvent counts one emitted provider event.
func (m *Metrics) ObserveProviderEvent(event string) {
	if m == nil {
		return
	}
	m.providerEvents.WithLabelValues(event).Inc()
}

// ObserveWebhook counts one webhook delivery attempt; outcome is "success",
// "retry" or "failed".
func (m *Metrics) ObserveWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// route pattern is only complete after routing
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		m.httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		m.httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
