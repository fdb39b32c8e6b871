package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResendConfig tunes code delivery throttling.
type ResendConfig struct {
	MinInterval  time.Duration
	MaxPerWindow int
	Window       time.Duration
}

// DefaultResendConfig allows one send per minute and three per ten minutes.
func DefaultResendConfig() ResendConfig {
	return ResendConfig{MinInterval: 60 * time.Second, MaxPerWindow: 3, Window: 600 * time.Second}
}

// ResendVerdict is the outcome of a resend check.
type ResendVerdict int

const (
	ResendAllowed ResendVerdict = iota
	ResendTooSoon
	ResendLimitReached
)

func (v ResendVerdict) String() string {
	switch v {
	case ResendAllowed:
		return "allowed"
	case ResendTooSoon:
		return "too_soon"
	case ResendLimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// ResendDecision carries the verdict and, when denied, a wait of at least one
// whole second.
type ResendDecision struct {
	Verdict    ResendVerdict
	RetryAfter time.Duration
}

// ResendThrottle decides whether a key may receive another code.
type ResendThrottle interface {
	Check(ctx context.Context, key string) (ResendDecision, error)
	// Note records a send. The spacing and window counters move together.
	Note(ctx context.Context, key string) error
	// Reserve decides and, when allowed, records the send in one step.
	// Concurrent callers never share a slot.
	Reserve(ctx context.Context, key string) (ResendDecision, error)
}

type resendState struct {
	last        time.Time
	count       int
	windowStart time.Time
}

// decide applies the window cap before the spacing rule.
func decide(st resendState, now time.Time, cfg ResendConfig) ResendDecision {
	if st.windowStart.IsZero() || !now.Before(st.windowStart.Add(cfg.Window)) {
		st.count = 0
	}
	if st.count >= cfg.MaxPerWindow {
		return ResendDecision{Verdict: ResendLimitReached, RetryAfter: wholeSeconds(st.windowStart.Add(cfg.Window).Sub(now))}
	}
	if !st.last.IsZero() {
		if next := st.last.Add(cfg.MinInterval); now.Before(next) {
			return ResendDecision{Verdict: ResendTooSoon, RetryAfter: wholeSeconds(next.Sub(now))}
		}
	}
	return ResendDecision{Verdict: ResendAllowed}
}

// note advances st for a send at now.
func note(st resendState, now time.Time, cfg ResendConfig) resendState {
	if st.windowStart.IsZero() || !now.Before(st.windowStart.Add(cfg.Window)) {
		st = resendState{windowStart: now}
	}
	st.count++
	st.last = now
	return st
}

func wholeSeconds(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// noteResendScript updates spacing and window counters atomically.
//
// KEYS[1] hash
// ARGV[1] now ms, ARGV[2] window ms, ARGV[3] key ttl ms
var noteResendScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
if start == nil or now - start >= tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'start', ARGV[1], 'count', 1, 'last', ARGV[1])
else
  redis.call('HINCRBY', KEYS[1], 'count', 1)
  redis.call('HSET', KEYS[1], 'last', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// reserveResendScript runs decide and, on allow, the note update.
// It returns {verdict, retry ms}.
//
// KEYS[1] hash
// ARGV[1] now ms, ARGV[2] window ms, ARGV[3] spacing ms, ARGV[4] max per
// window, ARGV[5] key ttl ms
var reserveResendScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local spacing = tonumber(ARGV[3])
local max = tonumber(ARGV[4])
local vals = redis.call('HMGET', KEYS[1], 'last', 'count', 'start')
local last = tonumber(vals[1])
local count = tonumber(vals[2]) or 0
local start = tonumber(vals[3])
if start == nil or now - start >= window then
  count = 0
  start = nil
end
if count >= max then
  return {2, (start or now) + window - now}
end
if last ~= nil and now < last + spacing then
  return {1, last + spacing - now}
end
if start == nil then
  redis.call('HSET', KEYS[1], 'start', ARGV[1], 'count', 1, 'last', ARGV[1])
else
  redis.call('HINCRBY', KEYS[1], 'count', 1)
  redis.call('HSET', KEYS[1], 'last', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {0, 0}
`)

// RedisResendThrottle stores one hash per key.
type RedisResendThrottle struct {
	redis  redis.UniversalClient
	config ResendConfig
	now    func() time.Time
}

var _ ResendThrottle = (*RedisResendThrottle)(nil)

// NewRedisResendThrottle builds a throttle on client. now may be nil.
func NewRedisResendThrottle(client redis.UniversalClient, cfg ResendConfig, now func() time.Time) *RedisResendThrottle {
	if now == nil {
		now = time.Now
	}
	return &RedisResendThrottle{redis: client, config: cfg, now: now}
}

func resendKey(key string) string { return "rs:" + key }

// Check implements ResendThrottle.
func (r *RedisResendThrottle) Check(ctx context.Context, key string) (ResendDecision, error) {
	vals, err := r.redis.HMGet(ctx, resendKey(key), "last", "count", "start").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return ResendDecision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	var st resendState
	if len(vals) == 3 {
		st.last = msField(vals[0])
		st.count = int(intField(vals[1]))
		st.windowStart = msField(vals[2])
	}
	return decide(st, r.now(), r.config), nil
}

// Note implements ResendThrottle.
func (r *RedisResendThrottle) Note(ctx context.Context, key string) error {
	err := noteResendScript.Run(ctx, r.redis, []string{resendKey(key)},
		r.now().UnixMilli(),
		r.config.Window.Milliseconds(),
		r.keyTTL().Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Reserve implements ResendThrottle.
func (r *RedisResendThrottle) Reserve(ctx context.Context, key string) (ResendDecision, error) {
	res, err := reserveResendScript.Run(ctx, r.redis, []string{resendKey(key)},
		r.now().UnixMilli(),
		r.config.Window.Milliseconds(),
		r.config.MinInterval.Milliseconds(),
		r.config.MaxPerWindow,
		r.keyTTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return ResendDecision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return ResendDecision{}, fmt.Errorf("%w: unexpected reserve reply %v", ErrBackendUnavailable, res)
	}
	verdict := ResendVerdict(res[0])
	if verdict == ResendAllowed {
		return ResendDecision{Verdict: ResendAllowed}, nil
	}
	return ResendDecision{Verdict: verdict, RetryAfter: wholeSeconds(time.Duration(res[1]) * time.Millisecond)}, nil
}

func (r *RedisResendThrottle) keyTTL() time.Duration {
	if r.config.MinInterval > r.config.Window {
		return r.config.MinInterval
	}
	return r.config.Window
}

func intField(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func msField(v interface{}) time.Time {
	ms := intField(v)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// MemoryResendThrottle is the single-process throttle. Like
// MemoryAttemptTracker it is not shared between instances.
type MemoryResendThrottle struct {
	mu      sync.Mutex
	config  ResendConfig
	now     func() time.Time
	entries map[string]resendState
}

var _ ResendThrottle = (*MemoryResendThrottle)(nil)

// NewMemoryResendThrottle builds a throttle. now may be nil.
func NewMemoryResendThrottle(cfg ResendConfig, now func() time.Time) *MemoryResendThrottle {
	if now == nil {
		now = time.Now
	}
	return &MemoryResendThrottle{config: cfg, now: now, entries: make(map[string]resendState)}
}

// Check implements ResendThrottle.
func (m *MemoryResendThrottle) Check(_ context.Context, key string) (ResendDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decide(m.entries[key], m.now(), m.config), nil
}

// Note implements ResendThrottle.
func (m *MemoryResendThrottle) Note(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = note(m.entries[key], m.now(), m.config)
	return nil
}

// Reserve implements ResendThrottle.
func (m *MemoryResendThrottle) Reserve(_ context.Context, key string) (ResendDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st := m.entries[key]
	d := decide(st, now, m.config)
	if d.Verdict == ResendAllowed {
		m.entries[key] = note(st, now, m.config)
	}
	return d, nil
}
