package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryTokenBucket is the single-process limiter used when no Redis is
// configured (the Lambda deployment and local runs). Buckets are per subject.
// A bucket idle for a whole window has refilled completely, so it is dropped
// and recreated on demand; subjects are client-chosen and would otherwise
// accumulate forever.
type MemoryTokenBucket struct {
	mu        sync.Mutex
	capacity  int
	window    time.Duration
	every     rate.Limit
	buckets   map[string]*memoryBucket
	lastSweep time.Time
	now       func() time.Time
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	if err := validateBucket(capacity, window); err != nil {
		return nil, err
	}
	return &MemoryTokenBucket{
		capacity: capacity,
		window:   window,
		every:    rate.Limit(float64(capacity) / window.Seconds()),
		buckets:  make(map[string]*memoryBucket),
		now:      time.Now,
	}, nil
}

func (l *MemoryTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

func (l *MemoryTokenBucket) AllowN(_ context.Context, subject string, cost int) (Decision, error) {
	cost, err := checkCost(cost, l.capacity)
	if err != nil {
		return Decision{}, err
	}

	subject = normalizeSubject(subject)
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	b, ok := l.buckets[subject]
	if !ok {
		b = &memoryBucket{limiter: rate.NewLimiter(l.every, l.capacity)}
		l.buckets[subject] = b
	}
	b.lastSeen = now
	limiter := b.limiter
	l.mu.Unlock()

	r := limiter.ReserveN(now, cost)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return Decision{
			Allowed:    false,
			Remaining:  int64(math.Max(0, math.Floor(limiter.TokensAt(now)))),
			RetryAfter: delay,
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: int64(math.Max(0, math.Floor(limiter.TokensAt(now)))),
	}, nil
}

// sweepLocked runs at most once per window and drops buckets nobody has
// touched for a full window.
func (l *MemoryTokenBucket) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for subject, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, subject)
		}
	}
}
