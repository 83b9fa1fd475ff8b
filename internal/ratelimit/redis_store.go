package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts attempts in Redis with INCR and a window-length TTL,
// so multiple server instances share one ceiling per key. The window is
// fixed rather than sliding, which is the usual trade for a shared counter.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	max       int
	window    time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter builds a Redis-backed limiter allowing max attempts per
// window.
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string, max int, window time.Duration) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "pollrooms:votes:"
	}
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, keyPrefix: keyPrefix, max: max, window: window}
}

// Consume increments the counter for key and rejects once it passes the
// ceiling. Redis errors are surfaced so the caller can decide whether to
// fail open or closed.
func (l *RedisLimiter) Consume(ctx context.Context, key string) (Decision, error) {
	redisKey := l.keyPrefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate key: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("expire rate key: %w", err)
		}
	}
	if count <= int64(l.max) {
		return Decision{}, nil
	}

	ttl, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{OverLimit: true, RetryAfter: l.window}, nil
	}
	if ttl < 0 {
		ttl = l.window
	}
	return Decision{OverLimit: true, RetryAfter: ttl}, nil
}
