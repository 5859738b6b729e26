// Package ratelimit meters API callers with token buckets, shared through
// Redis or kept in process.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "printstudio:ratelimit"

// Decision is the outcome of one take. Remaining is whole tokens left in the
// bucket; RetryAfter is set only when the take was refused.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeTokens refills the bucket for the time elapsed since its last take and
// removes ARGV[4] tokens if they are all available.
// Reply: {allowed (0|1), remaining tokens, retry-after ms}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - last) * per_ms)

local allowed, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[5]))
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket keeps one bucket per subject in Redis so every API
// instance draws from the same budget.
type RedisTokenBucket struct {
	client    redis.Scripter
	capacity  int64
	perMS     float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.Scripter, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := validateBucket(capacity, window); err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		perMS:     float64(capacity) / float64(max(1, window.Milliseconds())),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens at once. A stylization submission costs more than
// a preview since each one spends upstream quota.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost, err := checkCost(cost, int(l.capacity))
	if err != nil {
		return Decision{}, err
	}

	reply, err := takeTokens.Run(ctx, l.client,
		[]string{l.keyPrefix + ":" + normalizeSubject(subject)},
		l.capacity, l.perMS, l.now().UnixMilli(), cost, l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take %d tokens: %w", cost, err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket reply has %d values", len(reply))
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

func validateBucket(capacity int, window time.Duration) error {
	if capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

func checkCost(cost, capacity int) (int, error) {
	cost = max(1, cost)
	if cost > capacity {
		return 0, fmt.Errorf("cost %d exceeds bucket capacity %d", cost, capacity)
	}
	return cost, nil
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}
