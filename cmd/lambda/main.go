package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dunamismax/printstudio/internal/app"
	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/lambdahttp"
	"github.com/dunamismax/printstudio/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.AppEnv, "lambda")
	ctx := context.Background()

	server, closer, err := app.API(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api setup failed")
	}
	defer closer.Close()

	lambda.Start(lambdahttp.New(server.Handler(), logger).Handle)
}
