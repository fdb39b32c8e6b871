package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher creates and checks password hashes.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Bcrypt verifies legacy bcrypt hashes. New hashes are never produced with it
// unless it is configured as the primary hasher.
type Bcrypt struct {
	Cost int
}

// Hash implements Hasher.
func (b Bcrypt) Hash(plain string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify implements Hasher. A mismatch is (false, nil).
func (b Bcrypt) Verify(plain, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

// NeedsUpgrade implements Hasher.
func (b Bcrypt) NeedsUpgrade(encoded string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false, ErrInvalidHash
	}
	want := b.Cost
	if want == 0 {
		want = bcrypt.DefaultCost
	}
	return cost < want, nil
}

// Handles reports whether encoded looks like a bcrypt hash.
func (Bcrypt) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// Multi hashes with Argon2 and verifies whichever format the stored hash is in.
type Multi struct {
	Primary *Argon2
	Legacy  Bcrypt
}

// NewMulti builds an argon2-primary hasher that still accepts bcrypt rows.
func NewMulti(cfg Config) (*Multi, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Multi{Primary: a}, nil
}

// Hash implements Hasher.
func (m *Multi) Hash(plain string) (string, error) {
	return m.Primary.Hash(plain)
}

// Verify implements Hasher.
func (m *Multi) Verify(plain, encoded string) (bool, error) {
	switch {
	case m.Primary.Handles(encoded):
		return m.Primary.Verify(plain, encoded)
	case m.Legacy.Handles(encoded):
		return m.Legacy.Verify(plain, encoded)
	default:
		return false, ErrInvalidHash
	}
}

// NeedsUpgrade is true for every legacy hash and for weak argon2 parameters.
func (m *Multi) NeedsUpgrade(encoded string) (bool, error) {
	if m.Legacy.Handles(encoded) {
		return true, nil
	}
	return m.Primary.NeedsUpgrade(encoded)
}
