package tenantauth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local CredentialStore for tests and single-node
// development. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]User
	history map[int64][]string // oldest first
}

var _ CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]User),
		history: make(map[int64][]string),
	}
}

// AddUser inserts u, assigning ID and PublicID when unset. A non-empty
// PasswordHash becomes the first history entry.
func (s *MemoryStore) AddUser(u User) (User, error) {
	u.Email = NormalizeEmail(u.Email)
	u.TenantID = strings.TrimSpace(u.TenantID)
	if u.Email == "" || u.TenantID == "" {
		return User{}, errors.New("tenant and email required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.TenantID == u.TenantID && existing.Email == u.Email {
			return User{}, errors.New("email already registered in tenant")
		}
	}
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	} else if u.ID > s.nextID {
		s.nextID = u.ID
	}
	if u.PublicID == "" {
		u.PublicID = uuid.NewString()
	}
	s.users[u.ID] = u
	if u.PasswordHash != "" {
		s.history[u.ID] = append(s.history[u.ID], u.PasswordHash)
	}
	return u, nil
}

// SetLocked sets the administrative lock flag.
func (s *MemoryStore) SetLocked(userID int64, locked bool) error {
	return s.update(userID, func(u *User) { u.Locked = locked })
}

func (s *MemoryStore) SetDisabled(userID int64, disabled bool) error {
	return s.update(userID, func(u *User) { u.Disabled = disabled })
}

func (s *MemoryStore) update(userID int64, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) FindUsersByEmail(_ context.Context, email string) ([]User, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		if u.Email == email {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindUser(_ context.Context, tenantID, email string) (User, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByPublicID(_ context.Context, publicID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PublicID == publicID {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *MemoryStore) SetPassword(_ context.Context, userID int64, hash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = changedAt
	s.users[userID] = u
	s.history[userID] = append(s.history[userID], hash)
	return nil
}

func (s *MemoryStore) RecentPasswordHashes(_ context.Context, userID int64, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[userID]
	out := make([]string, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (s *MemoryStore) SetTOTPSecret(_ context.Context, userID int64, secret string) error {
	return s.update(userID, func(u *User) { u.TOTPSecret = secret })
}

func (s *MemoryStore) EnableTwoFactor(_ context.Context, userID int64) error {
	return s.update(userID, func(u *User) { u.TOTPEnabled = true })
}

func (s *MemoryStore) DisableTwoFactor(_ context.Context, userID int64) error {
	return s.update(userID, func(u *User) {
		u.TOTPSecret = ""
		u.TOTPEnabled = false
	})
}

func (s *MemoryStore) RecordLogin(_ context.Context, userID int64, at time.Time) error {
	return s.update(userID, func(u *User) { u.LastLoginAt = at })
}
