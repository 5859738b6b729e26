// Package app wires configuration into the collaborators shared by the API,
// Lambda and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/printstudio/internal/api"
	"github.com/dunamismax/printstudio/internal/catalog"
	"github.com/dunamismax/printstudio/internal/compress"
	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/gelato"
	"github.com/dunamismax/printstudio/internal/prodigi"
	"github.com/dunamismax/printstudio/internal/queue"
	"github.com/dunamismax/printstudio/internal/ratelimit"
	"github.com/dunamismax/printstudio/internal/rest"
	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/dunamismax/printstudio/internal/shopify"
	"github.com/dunamismax/printstudio/internal/storage"
	"github.com/dunamismax/printstudio/internal/store"
	"github.com/dunamismax/printstudio/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Closer releases what a constructor opened, in reverse order.
type Closer struct {
	fns []func() error
}

func (c *Closer) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *Closer) Close() error {
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		errs = append(errs, c.fns[i]())
	}
	return errors.Join(errs...)
}

func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
	}
}

func RestClient(cfg config.Config) *rest.Client {
	return rest.NewClient(&http.Client{Timeout: 60 * time.Second}, RetryPolicy(cfg.Retry))
}

func Dzine(cfg config.Config) *dzine.Client {
	return dzine.NewClient(RestClient(cfg), dzine.Config{
		SubmitAttempts: cfg.Stylize.SubmitAttempts,
		PollAttempts:   cfg.Stylize.PollAttempts,
	})
}

// Secrets picks the credential source named by SECRETS_SOURCE.
func Secrets(ctx context.Context, cfg config.SecretsConfig) (secrets.Resolver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "env":
		return secrets.EnvResolver{Lookup: os.LookupEnv}, nil
	case "ssm":
		return secrets.NewSSMResolver(ctx, cfg.SSMPrefix, cfg.CacheTTL)
	default:
		return nil, fmt.Errorf("unknown secrets source %q", cfg.Source)
	}
}

// JobStore opens the store named by JOB_STORE.
func JobStore(ctx context.Context, cfg config.DatabaseConfig, closer *Closer) (store.JobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory":
		return store.NewMemoryJobStore(), nil
	case "", "postgres":
		pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		closer.add(pg.Close)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.Driver)
	}
}

func Storage(ctx context.Context, cfg config.StorageConfig) (*storage.Client, error) {
	client, err := storage.NewClient(storage.Config{
		Endpoint:      cfg.Endpoint,
		Access:        cfg.AccessKey,
		Secret:        cfg.SecretKey,
		Bucket:        cfg.Bucket,
		UseSSL:        cfg.UseSSL,
		PresignExpiry: cfg.PresignExpiry,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return client, nil
}

// RateLimiter shares buckets through Redis when it is reachable and falls
// back to a per-process limiter otherwise.
func RateLimiter(ctx context.Context, cfg config.Config, logger zerolog.Logger, closer *Closer) (api.RateLimiter, error) {
	rl := cfg.API.RateLimit
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		logger.Warn().Err(err).Msg("redis unavailable, rate limiting per process")
		return ratelimit.NewMemoryTokenBucket(rl.Capacity, rl.Window)
	}
	closer.add(rdb.Close)
	return ratelimit.NewRedisTokenBucket(rdb, rl.Capacity, rl.Window, "printstudio:ratelimit")
}

// API builds the HTTP API with every collaborator configured. Optional
// collaborators that fail to start are logged and left out; their routes
// answer 503.
func API(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*api.Server, *Closer, error) {
	closer := &Closer{}
	fail := func(err error) (*api.Server, *Closer, error) {
		_ = closer.Close()
		return nil, nil, err
	}

	jobStore, err := JobStore(ctx, cfg.Database, closer)
	if err != nil {
		return fail(fmt.Errorf("job store: %w", err))
	}
	resolver, err := Secrets(ctx, cfg.Secrets)
	if err != nil {
		return fail(fmt.Errorf("secrets: %w", err))
	}
	encoder, err := compress.NewEncoder()
	if err != nil {
		return fail(fmt.Errorf("image encoder: %w", err))
	}
	limiter, err := RateLimiter(ctx, cfg, logger, closer)
	if err != nil {
		return fail(fmt.Errorf("rate limiter: %w", err))
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	closer.add(queueClient.Close)

	restClient := RestClient(cfg)
	deps := api.Dependencies{
		Queue:       queueClient,
		JobStore:    jobStore,
		Stylizer:    Dzine(cfg),
		Storefront:  shopify.NewClient(restClient),
		Quoter:      prodigi.NewClient(restClient),
		Fulfiller:   gelato.NewClient(restClient),
		Secrets:     resolver,
		Encoder:     encoder,
		RateLimiter: limiter,
		Tracer:      telemetry.Tracer("api"),
	}

	if objects, err := Storage(ctx, cfg.Storage); err != nil {
		logger.Warn().Err(err).Msg("object storage unavailable")
	} else {
		deps.Storage = objects
	}
	if products, err := catalog.LoadDir(cfg.Catalog.Dir, logger); err != nil {
		logger.Warn().Err(err).Str("dir", cfg.Catalog.Dir).Msg("catalog unavailable")
	} else {
		deps.Catalog = products
	}

	server := api.NewServer(logger, deps, api.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		Compress:       compress.Options{MaxWidth: cfg.Compress.MaxWidth, Quality: cfg.Compress.Quality},
		StylizeCost:    cfg.API.RateLimit.StylizeCost,
	})
	return server, closer, nil
}

func TraceConfig(cfg config.Config, service string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  service,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}
}
