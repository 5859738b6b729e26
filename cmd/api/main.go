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
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		bootLogger := telemetry.NewLogger("production", "api")
		bootLogger.Fatal().Err(err).Msg("load .env")
	}
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, app.TraceConfig(cfg, "printstudio-api"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	server, closer, err := app.API(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api setup failed")
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}
