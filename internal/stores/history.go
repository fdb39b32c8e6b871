package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MaxHistoryTTL caps how stale a cached history snapshot may be.
const MaxHistoryTTL = 5 * time.Minute

var ErrHistoryUnavailable = errors.New("history cache unavailable")

// HistoryCache holds recent password hashes per user.
type HistoryCache interface {
	Get(ctx context.Context, userID int64) (hashes []string, ok bool, err error)
	Put(ctx context.Context, userID int64, hashes []string) error
	Invalidate(ctx context.Context, userID int64) error
}

func clampHistoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxHistoryTTL {
		return MaxHistoryTTL
	}
	return ttl
}

// RedisHistoryCache stores the list as newline-joined PHC strings under ph:<uid>.
type RedisHistoryCache struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

var _ HistoryCache = (*RedisHistoryCache)(nil)

// NewRedisHistoryCache builds a cache. ttl is clamped to MaxHistoryTTL.
func NewRedisHistoryCache(client redis.UniversalClient, ttl time.Duration) *RedisHistoryCache {
	return &RedisHistoryCache{redis: client, ttl: clampHistoryTTL(ttl)}
}

func historyKey(userID int64) string {
	return "ph:" + strconv.FormatInt(userID, 10)
}

// Get implements HistoryCache.
func (c *RedisHistoryCache) Get(ctx context.Context, userID int64) ([]string, bool, error) {
	raw, err := c.redis.Get(ctx, historyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	if raw == "" {
		return []string{}, true, nil
	}
	return strings.Split(raw, "\n"), true, nil
}

// Put implements HistoryCache.
func (c *RedisHistoryCache) Put(ctx context.Context, userID int64, hashes []string) error {
	if err := c.redis.Set(ctx, historyKey(userID), strings.Join(hashes, "\n"), c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return nil
}

// Invalidate implements HistoryCache.
func (c *RedisHistoryCache) Invalidate(ctx context.Context, userID int64) error {
	if err := c.redis.Del(ctx, historyKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return nil
}

type historyEntry struct {
	hashes  []string
	expires time.Time
}

// MemoryHistoryCache is the single-process HistoryCache.
type MemoryHistoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]historyEntry
}

var _ HistoryCache = (*MemoryHistoryCache)(nil)

// NewMemoryHistoryCache builds a cache. now may be nil.
func NewMemoryHistoryCache(ttl time.Duration, now func() time.Time) *MemoryHistoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryHistoryCache{ttl: clampHistoryTTL(ttl), now: now, entries: make(map[int64]historyEntry)}
}

// Get implements HistoryCache.
func (c *MemoryHistoryCache) Get(_ context.Context, userID int64) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.After(c.now()) {
		delete(c.entries, userID)
		return nil, false, nil
	}
	return append([]string(nil), e.hashes...), true, nil
}

// Put implements HistoryCache.
func (c *MemoryHistoryCache) Put(_ context.Context, userID int64, hashes []string) error {
	c.mu.Lock()
	c.entries[userID] = historyEntry{hashes: append([]string(nil), hashes...), expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate implements HistoryCache.
func (c *MemoryHistoryCache) Invalidate(_ context.Context, userID int64) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}
