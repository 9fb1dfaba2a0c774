package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/splitfeature/internal/api"
	"github.com/TimurManjosov/splitfeature/internal/config"
	"github.com/TimurManjosov/splitfeature/internal/localhost"
	"github.com/TimurManjosov/splitfeature/internal/logging"
	"github.com/TimurManjosov/splitfeature/internal/notify"
	"github.com/TimurManjosov/splitfeature/internal/provider"
	"github.com/TimurManjosov/splitfeature/internal/split"
	"github.com/TimurManjosov/splitfeature/internal/splitsdk"
	"github.com/TimurManjosov/splitfeature/internal/telemetry"
	"github.com/TimurManjosov/splitfeature/internal/webhook"
)

const (
	serviceName     = "splitfeature"
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger = logger.With().Str("service", serviceName).Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTracing(ctx, serviceName, cfg.OTLPEndpoint, logger)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn().Err(err).Msg("tracer shutdown failed")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	factory, err := newFactory(cfg, logger)
	if err != nil {
		return err
	}

	p, err := provider.New(factory,
		provider.WithLogger(logger),
		provider.WithMetrics(metrics),
		provider.WithTrafficType(cfg.TrafficType),
		provider.WithRequireTargetingKey(cfg.RequireTargetingKey),
		provider.WithTracerProvider(otel.GetTracerProvider()),
	)
	if err != nil {
		_ = factory.Destroy(context.Background())
		return fmt.Errorf("provider: %w", err)
	}

	hub := notify.New[provider.Event](16)
	go hub.Pipe(p.Events())
	defer hub.Close()

	dispatcher := newDispatcher(cfg, logger, metrics)
	if dispatcher != nil {
		events, unsub := hub.Subscribe()
		defer unsub()
		dispatcher.Start()
		go dispatcher.Forward(events)
	}

	// serve immediately; /readyz reports 503 until the client is ready
	go func() {
		ictx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
		defer cancel()
		if err := p.Init(ictx, provider.EvaluationContext{}); err != nil {
			logger.Warn().Err(err).Dur("timeout", cfg.ReadyTimeout).Msg("provider not ready, serving defaults until it recovers")
		}
	}()

	srvAPI := api.NewServer(api.Options{
		Provider:       p,
		Events:         hub,
		TrackKeys:      cfg.TrackAPIKeys,
		Metrics:        metrics,
		TracerProvider: otel.GetTracerProvider(),
		Logger:         logger,
		RateLimitPerIP: cfg.RateLimitPerIP,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      0, // SSE
		IdleTimeout:       60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 3 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(srv, "api", logger) })
	g.Go(func() error { return listen(metricsSrv, "metrics", logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs := []error{
			srv.Shutdown(sctx),
			metricsSrv.Shutdown(sctx),
			p.Close(sctx),
		}
		if dispatcher != nil {
			errs = append(errs, dispatcher.Close(sctx))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info().Msg("stopped")
	return err
}

func listen(srv *http.Server, name string, logger zerolog.Logger) error {
	logger.Info().Str("addr", srv.Addr).Msgf("%s server listening", name)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// newDispatcher returns nil when no webhook URL is configured.
func newDispatcher(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *webhook.Dispatcher {
	if len(cfg.WebhookURLs) == 0 {
		return nil
	}
	events := make([]provider.EventType, 0, len(cfg.WebhookEvents))
	for _, e := range cfg.WebhookEvents {
		events = append(events, provider.EventType(e))
	}
	return webhook.NewDispatcher(webhook.Options{
		URLs:       cfg.WebhookURLs,
		Secret:     cfg.WebhookSecret,
		MaxRetries: cfg.WebhookMaxRetries,
		Events:     events,
		Logger:     logger,
		Metrics:    metrics,
	})
}

func newFactory(cfg *config.Config, logger zerolog.Logger) (split.Factory, error) {
	switch cfg.SplitMode {
	case config.ModeSDK:
		f, err := splitsdk.NewFactory(cfg.SplitAPIKey, splitsdk.Options{
			ReadyTimeout: cfg.ReadyTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("split sdk: %w", err)
		}
		return f, nil
	default:
		f, err := localhost.NewFactory(cfg.LocalhostFile, localhost.Options{
			ReadyTimeout: cfg.ReadyTimeout,
			Watch:        cfg.LocalhostWatch,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("localhost: %w", err)
		}
		return f, nil
	}
}
