package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeRecordVersionV1 = 1

var (
	ErrCodeNotFound         = errors.New("code not found")
	ErrCodeMismatch         = errors.New("code mismatch")
	ErrCodeAttemptsExceeded = errors.New("code attempts exceeded")
	ErrCodeUnavailable      = errors.New("code store unavailable")
)

// CodeRecord is one outstanding code.
type CodeRecord struct {
	Hash      [32]byte
	ExpiresAt int64 // unix ms
	Attempts  uint16
}

// CodeStore persists hashed codes keyed by purpose and user.
type CodeStore interface {
	// Save replaces any outstanding code for key.
	Save(ctx context.Context, key string, hash [32]byte, ttl time.Duration) error
	// Consume deletes the record on a match. A mismatch bumps the attempt
	// count and discards the record once maxAttempts is reached.
	Consume(ctx context.Context, key string, hash [32]byte, maxAttempts int) error
	// Match is Consume without the delete on a match. A mismatch still
	// counts as an attempt.
	Match(ctx context.Context, key string, hash [32]byte, maxAttempts int) error
}

// RedisCodeStore keeps codes in Redis.
type RedisCodeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ CodeStore = (*RedisCodeStore)(nil)

// NewRedisCodeStore builds a store. now may be nil.
func NewRedisCodeStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisCodeStore {
	if prefix == "" {
		prefix = "otp"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisCodeStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisCodeStore) key(key string) string {
	return s.prefix + ":" + key
}

// Save implements CodeStore.
func (s *RedisCodeStore) Save(ctx context.Context, key string, hash [32]byte, ttl time.Duration) error {
	rec := &CodeRecord{Hash: hash, ExpiresAt: s.now().Add(ttl).UnixMilli()}
	if err := s.redis.Set(ctx, s.key(key), encodeCodeRecord(rec), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	return nil
}

// Consume implements CodeStore.
func (s *RedisCodeStore) Consume(ctx context.Context, key string, hash [32]byte, maxAttempts int) error {
	return s.settle(ctx, key, hash, maxAttempts, false)
}

// Match implements CodeStore.
func (s *RedisCodeStore) Match(ctx context.Context, key string, hash [32]byte, maxAttempts int) error {
	return s.settle(ctx, key, hash, maxAttempts, true)
}

func (s *RedisCodeStore) settle(ctx context.Context, key string, hash [32]byte, maxAttempts int, keep bool) error {
	const maxRetries = 4
	k := s.key(key)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, k).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeCodeRecord(data)
			if err != nil {
				return err
			}

			now := s.now()
			remaining := time.UnixMilli(rec.ExpiresAt).Sub(now)
			outcome := rec.check(hash, remaining, maxAttempts)
			if outcome == nil && keep {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if outcome == ErrCodeMismatch {
					pipe.Set(ctx, k, encodeCodeRecord(rec), remaining)
				} else {
					pipe.Del(ctx, k)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return outcome
		}, k)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return ErrCodeNotFound
		case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeMismatch), errors.Is(err, ErrCodeAttemptsExceeded):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
		}
	}
	return ErrCodeNotFound
}

// check classifies a presented hash and updates Attempts. nil means consumed.
func (r *CodeRecord) check(hash [32]byte, remaining time.Duration, maxAttempts int) error {
	if remaining <= 0 {
		return ErrCodeNotFound
	}
	if subtle.ConstantTimeCompare(r.Hash[:], hash[:]) == 1 {
		return nil
	}
	r.Attempts++
	if int(r.Attempts) >= maxAttempts {
		return ErrCodeAttemptsExceeded
	}
	return ErrCodeMismatch
}

func encodeCodeRecord(r *CodeRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(1 + 2 + 8 + 32)
	buf.WriteByte(codeRecordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, r.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, r.ExpiresAt)
	buf.Write(r.Hash[:])
	return buf.Bytes()
}

func decodeCodeRecord(data []byte) (*CodeRecord, error) {
	if len(data) != 1+2+8+32 || data[0] != codeRecordVersionV1 {
		return nil, errors.New("invalid code record")
	}
	r := &CodeRecord{
		Attempts:  binary.BigEndian.Uint16(data[1:3]),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[3:11])),
	}
	copy(r.Hash[:], data[11:])
	return r, nil
}

// MemoryCodeStore is the single-process CodeStore.
type MemoryCodeStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]*CodeRecord
}

var _ CodeStore = (*MemoryCodeStore)(nil)

// NewMemoryCodeStore builds a store. now may be nil.
func NewMemoryCodeStore(now func() time.Time) *MemoryCodeStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCodeStore{now: now, records: make(map[string]*CodeRecord)}
}

// Save implements CodeStore.
func (m *MemoryCodeStore) Save(_ context.Context, key string, hash [32]byte, ttl time.Duration) error {
	m.mu.Lock()
	m.records[key] = &CodeRecord{Hash: hash, ExpiresAt: m.now().Add(ttl).UnixMilli()}
	m.mu.Unlock()
	return nil
}

// Consume implements CodeStore.
func (m *MemoryCodeStore) Consume(_ context.Context, key string, hash [32]byte, maxAttempts int) error {
	return m.settle(key, hash, maxAttempts, false)
}

// Match implements CodeStore.
func (m *MemoryCodeStore) Match(_ context.Context, key string, hash [32]byte, maxAttempts int) error {
	return m.settle(key, hash, maxAttempts, true)
}

func (m *MemoryCodeStore) settle(key string, hash [32]byte, maxAttempts int, keep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return ErrCodeNotFound
	}
	outcome := rec.check(hash, time.UnixMilli(rec.ExpiresAt).Sub(m.now()), maxAttempts)
	if outcome == nil && keep {
		return nil
	}
	if outcome != ErrCodeMismatch {
		delete(m.records, key)
	}
	return outcome
}
