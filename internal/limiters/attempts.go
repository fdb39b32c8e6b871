package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable wraps every storage failure from a limiter backend.
var ErrBackendUnavailable = errors.New("limiter backend unavailable")

// AttemptConfig tunes the lockout tracker.
type AttemptConfig struct {
	Threshold int
	// Window is refreshed on each failure, so it slides.
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultAttemptConfig allows five failures per sliding fifteen minutes.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{Threshold: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute}
}

// AttemptState is a snapshot of one key's counter.
type AttemptState struct {
	Count      int
	Locked     bool
	RetryAfter time.Duration
}

// AttemptTracker counts failures per key. Keys are opaque to the tracker.
type AttemptTracker interface {
	RecordFailure(ctx context.Context, key string) (AttemptState, error)
	Status(ctx context.Context, key string) (AttemptState, error)
	Reset(ctx context.Context, key string) error
}

// recordFailureScript increments the counter, slides its window and sets the
// lock once the threshold is reached, all in one round trip.
//
// KEYS[1] counter, KEYS[2] lock
// ARGV[1] window ms, ARGV[2] threshold, ARGV[3] lock ms
var recordFailureScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
if n >= tonumber(ARGV[2]) then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3], 'NX')
end
return {n, redis.call('PTTL', KEYS[2])}
`)

// RedisAttemptTracker keeps counters in Redis so every instance sees the same
// state.
type RedisAttemptTracker struct {
	redis  redis.UniversalClient
	config AttemptConfig
}

var _ AttemptTracker = (*RedisAttemptTracker)(nil)

// NewRedisAttemptTracker builds a tracker on client.
func NewRedisAttemptTracker(client redis.UniversalClient, cfg AttemptConfig) *RedisAttemptTracker {
	return &RedisAttemptTracker{redis: client, config: cfg}
}

// counter and lock share a hash tag so the script stays on one cluster slot.
func attemptKeys(key string) (string, string) {
	return "lk:{" + key + "}:n", "lk:{" + key + "}:lock"
}

// RecordFailure implements AttemptTracker.
func (r *RedisAttemptTracker) RecordFailure(ctx context.Context, key string) (AttemptState, error) {
	counter, lock := attemptKeys(key)
	res, err := recordFailureScript.Run(ctx, r.redis, []string{counter, lock},
		r.config.Window.Milliseconds(),
		r.config.Threshold,
		r.config.LockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return AttemptState{}, fmt.Errorf("%w: unexpected script reply", ErrBackendUnavailable)
	}
	return stateFromRedis(res[0], res[1]), nil
}

// Status implements AttemptTracker.
func (r *RedisAttemptTracker) Status(ctx context.Context, key string) (AttemptState, error) {
	counter, lock := attemptKeys(key)
	pipe := r.redis.Pipeline()
	countCmd := pipe.Get(ctx, counter)
	ttlCmd := pipe.PTTL(ctx, lock)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var count int64
	if raw, err := countCmd.Result(); err == nil {
		count, _ = strconv.ParseInt(raw, 10, 64)
	}
	ttl, err := ttlCmd.Result()
	if err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	lockMs := ttl.Milliseconds()
	if ttl < 0 {
		// go-redis passes the -1/-2 sentinels through unscaled.
		lockMs = int64(ttl)
	}
	return stateFromRedis(count, lockMs), nil
}

// Reset implements AttemptTracker.
func (r *RedisAttemptTracker) Reset(ctx context.Context, key string) error {
	counter, lock := attemptKeys(key)
	if err := r.redis.Del(ctx, counter, lock).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// PTTL answers -2 for a missing key and -1 for one without expiry.
func stateFromRedis(count, lockTTLms int64) AttemptState {
	st := AttemptState{Count: int(count)}
	switch {
	case lockTTLms > 0:
		st.Locked = true
		st.RetryAfter = time.Duration(lockTTLms) * time.Millisecond
	case lockTTLms == -1:
		st.Locked = true
	}
	return st
}
