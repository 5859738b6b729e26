package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dunamismax/printstudio/internal/app"
	"github.com/dunamismax/printstudio/internal/cli"
	"github.com/dunamismax/printstudio/internal/config"
	"github.com/rs/zerolog"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resolver, err := app.Secrets(ctx, cfg.Secrets)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := cli.NewRootCmd(cli.NewRoot(cfg, logger, resolver))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
