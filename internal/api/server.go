// Package api exposes the provider over HTTP: typed flag evaluation, event
// tracking and a server-sent event stream of provider lifecycle events.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/splitfeature/internal/auth"
	"github.com/TimurManjosov/splitfeature/internal/notify"
	"github.com/TimurManjosov/splitfeature/internal/provider"
	"github.com/TimurManjosov/splitfeature/internal/telemetry"
)

const (
	requestTimeout   = 5 * time.Second
	defaultHeartbeat = 25 * time.Second
)

// FlagProvider is the part of *provider.Provider the HTTP layer needs.
type FlagProvider interface {
	Metadata() provider.Metadata
	Status() provider.State
	ResolveBoolean(ctx context.Context, flagKey string, defaultValue bool, evalCtx provider.EvaluationContext) (provider.ResolutionDetail[bool], error)
	ResolveString(ctx context.Context, flagKey string, defaultValue string, evalCtx provider.EvaluationContext) (provider.ResolutionDetail[string], error)
	ResolveNumber(ctx context.Context, flagKey string, defaultValue float64, evalCtx provider.EvaluationContext) (provider.ResolutionDetail[float64], error)
	ResolveInt(ctx context.Context, flagKey string, defaultValue int64, evalCtx provider.EvaluationContext) (provider.ResolutionDetail[int64], error)
	ResolveObject(ctx context.Context, flagKey string, defaultValue any, evalCtx provider.EvaluationContext) (provider.ResolutionDetail[any], error)
	Track(ctx context.Context, eventName string, evalCtx provider.EvaluationContext, details *provider.TrackingDetails) error
}

// Options configures a Server.
type Options struct {
	Provider FlagProvider
	// Events feeds GET /v1/events. Nil disables the stream.
	Events *notify.Hub[provider.Event]
	// TrackKeys are the bearer keys accepted by POST /v1/track (plain or bcrypt).
	TrackKeys      []string
	Metrics        *telemetry.Metrics
	TracerProvider trace.TracerProvider
	Logger         zerolog.Logger
	// RateLimitPerIP is the per-minute request budget per client IP; 0 disables it.
	RateLimitPerIP int
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
}

type Server struct {
	provider  FlagProvider
	events    *notify.Hub[provider.Event]
	auth      *auth.Authenticator
	metrics   *telemetry.Metrics
	tracer    trace.TracerProvider
	logger    zerolog.Logger
	rateLimit int
	heartbeat time.Duration
}

func NewServer(opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &Server{
		provider:  opts.Provider,
		events:    opts.Events,
		auth:      auth.NewAuthenticator(opts.TrackKeys),
		metrics:   opts.Metrics,
		tracer:    opts.TracerProvider,
		logger:    opts.Logger,
		rateLimit: opts.RateLimitPerIP,
		heartbeat: opts.Heartbeat,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger), s.accessLog)
	r.Use(telemetry.TraceMiddleware(s.tracer), s.metrics.Middleware)
	if s.rateLimit > 0 {
		r.Use(httprate.Limit(s.rateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(RateLimitedError),
		))
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)

	// the event stream outlives the request timeout
	r.Get("/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/v1/flags/{key}/evaluate", s.handleEvaluate)
		r.With(s.auth.RequireAuth(UnauthorizedError)).Post("/v1/track", s.handleTrack)
	})

	return r
}

type readyResponse struct {
	Provider string         `json:"provider"`
	Status   provider.State `json:"status"`
}

// handleReady reports 200 while the provider can evaluate (READY or STALE).
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := s.provider.Status()
	code := http.StatusOK
	if state != provider.StateReady && state != provider.StateStale {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{Provider: s.provider.Metadata().Name, Status: state})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}
