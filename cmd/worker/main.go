package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/printstudio/internal/app"
	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/telemetry"
	"github.com/dunamismax/printstudio/internal/webhook"
	"github.com/dunamismax/printstudio/internal/worker"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		bootLogger := telemetry.NewLogger("production", "worker")
		bootLogger.Fatal().Err(err).Msg("load .env")
	}
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, app.TraceConfig(cfg, "printstudio-worker"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	closer := &app.Closer{}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	jobStore, err := app.JobStore(ctx, cfg.Database, closer)
	if err != nil {
		logger.Fatal().Err(err).Msg("job store setup failed")
	}
	resolver, err := app.Secrets(ctx, cfg.Secrets)
	if err != nil {
		logger.Fatal().Err(err).Msg("secrets setup failed")
	}

	policy := app.RetryPolicy(cfg.Retry)
	deps := worker.Dependencies{
		Dzine:    app.Dzine(cfg),
		Secrets:  resolver,
		JobStore: jobStore,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			Timeout:       cfg.Webhook.Timeout,
			Retry:         policy,
		}),
	}
	if objects, err := app.Storage(ctx, cfg.Storage); err != nil {
		logger.Warn().Err(err).Msg("object storage unavailable, results keep upstream URLs")
	} else {
		deps.Mirror = worker.NewResultMirror(nil, objects, policy)
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Stylize, deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker setup failed")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}
