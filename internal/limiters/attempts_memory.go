package limiters

import (
	"context"
	"sync"
	"time"
)

type attemptEntry struct {
	count       int
	windowUntil time.Time
	lockedUntil time.Time
}

// MemoryAttemptTracker is a single-process tracker. State is lost on restart
// and is not shared between instances, so a client spreading attempts across
// replicas gets Threshold tries per replica. Entries expire lazily on access.
type MemoryAttemptTracker struct {
	mu      sync.Mutex
	config  AttemptConfig
	now     func() time.Time
	entries map[string]*attemptEntry
}

var _ AttemptTracker = (*MemoryAttemptTracker)(nil)

// NewMemoryAttemptTracker builds a tracker. now may be nil.
func NewMemoryAttemptTracker(cfg AttemptConfig, now func() time.Time) *MemoryAttemptTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryAttemptTracker{config: cfg, now: now, entries: make(map[string]*attemptEntry)}
}

// RecordFailure implements AttemptTracker.
func (m *MemoryAttemptTracker) RecordFailure(_ context.Context, key string) (AttemptState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.live(key, now)
	if e == nil {
		e = &attemptEntry{}
		m.entries[key] = e
	}
	e.count++
	e.windowUntil = now.Add(m.config.Window)
	if e.count >= m.config.Threshold && !e.lockedUntil.After(now) {
		e.lockedUntil = now.Add(m.config.LockDuration)
	}
	return e.state(now), nil
}

// Status implements AttemptTracker.
func (m *MemoryAttemptTracker) Status(_ context.Context, key string) (AttemptState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e := m.live(key, now); e != nil {
		return e.state(now), nil
	}
	return AttemptState{}, nil
}

// Reset implements AttemptTracker.
func (m *MemoryAttemptTracker) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// live returns the entry for key after dropping whatever has expired.
// Callers hold mu.
func (m *MemoryAttemptTracker) live(key string, now time.Time) *attemptEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.windowUntil.After(now) {
		e.count = 0
	}
	if e.count == 0 && !e.lockedUntil.After(now) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (e *attemptEntry) state(now time.Time) AttemptState {
	st := AttemptState{Count: e.count}
	if e.lockedUntil.After(now) {
		st.Locked = true
		st.RetryAfter = e.lockedUntil.Sub(now)
	}
	return st
}
