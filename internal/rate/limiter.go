package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the window size and the requests it admits.
type Config struct {
	Limit  int
	Window time.Duration
}

// Limiter counts requests per key in Redis so every replica shares one
// budget.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter]. Limit below one is raised to one and a zero
// window defaults to a minute.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow counts one request for key. When the window is full it returns
// false with the time until the window resets.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := windowKey(key)
	count, err := l.incrementWithTTL(ctx, k)
	if err != nil {
		return false, 0, err
	}
	if count <= int64(l.config.Limit) {
		return true, 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		// key lost its expiry; restart the window
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		ttl = l.config.Window
	}
	return false, ttl, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, windowKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func windowKey(key string) string { return "rl:" + key }
