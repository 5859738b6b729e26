package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/ratelimit"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/dunamismax/printstudio/internal/store"
	"github.com/rs/zerolog"
)

func TestCloserRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	c := &Closer{}
	c.add(func() error {
		order = append(order, 1)
		return nil
	})
	c.add(func() error {
		order = append(order, 2)
		return boom
	})

	err := c.Close()
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected reverse order, got %v", order)
	}
}

func TestSecretsSource(t *testing.T) {
	r, err := Secrets(context.Background(), config.SecretsConfig{Source: "env"})
	if err != nil {
		t.Fatalf("env resolver: %v", err)
	}
	if _, ok := r.(secrets.EnvResolver); !ok {
		t.Fatalf("expected EnvResolver, got %T", r)
	}
	if _, err := Secrets(context.Background(), config.SecretsConfig{Source: "vault"}); err == nil {
		t.Fatal("expected unknown source to fail")
	}
}

func TestJobStoreMemory(t *testing.T) {
	closer := &Closer{}
	s, err := JobStore(context.Background(), config.DatabaseConfig{Driver: "memory"}, closer)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := s.(*store.MemoryJobStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}
	if _, err := JobStore(context.Background(), config.DatabaseConfig{Driver: "mongo"}, closer); err == nil {
		t.Fatal("expected unknown driver to fail")
	}
}

func TestRateLimiterFallsBackToMemory(t *testing.T) {
	cfg := config.Config{
		Queue: config.QueueConfig{RedisAddr: "127.0.0.1:1"},
		API:   config.APIConfig{RateLimit: config.RateLimitConfig{Capacity: 5, Window: time.Second}},
	}
	closer := &Closer{}
	limiter, err := RateLimiter(context.Background(), cfg, zerolog.Nop(), closer)
	if err != nil {
		t.Fatalf("rate limiter: %v", err)
	}
	if _, ok := limiter.(*ratelimit.MemoryTokenBucket); !ok {
		t.Fatalf("expected memory fallback, got %T", limiter)
	}
	if len(closer.fns) != 0 {
		t.Fatal("expected nothing to close after fallback")
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicy(config.RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, Multiplier: 2})
	if p.MaxAttempts != 4 || p.BaseDelay != time.Second || p.Multiplier != 2 {
		t.Fatalf("unexpected policy %+v", p)
	}
}
