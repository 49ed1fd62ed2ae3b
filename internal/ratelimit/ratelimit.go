// Package ratelimit provides per-key request limiting for the ingest
// boundary, backed by Redis so the limit holds across API instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventloom-io/eventloom/internal/metrics"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

type redisLimiter struct {
	client   *redis.Client
	limit    int64
	window   time.Duration
	disabled bool
}

// NewRedisLimiter creates a sliding-window limiter. When disabled, Allow
// always returns true and no Redis connection is made.
func NewRedisLimiter(redisURL string, limit int, window time.Duration, disabled bool) (Limiter, error) {
	if disabled {
		return &redisLimiter{disabled: true}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}, nil
}

// slidingWindowScript atomically trims expired entries, counts the rest,
// and records the request if under the limit.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now, now)
		redis.call('EXPIRE', key, 60)
		return 1
	end
	return 0
`)

// Allow implements sliding-window rate limiting keyed per caller.
func (r *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.disabled {
		return true, nil
	}

	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{"ratelimit:" + key}, now, windowStart, r.limit).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}

	if res != 1 {
		metrics.RateLimitHits.Inc()
		return false, nil
	}
	return true, nil
}

func (r *redisLimiter) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
