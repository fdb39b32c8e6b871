package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2Prefix          = "$argon2id$"
)

// ErrInvalidHash is returned when an encoded hash cannot be parsed.
var ErrInvalidHash = errors.New("password: invalid encoded hash")

// Config holds the Argon2id cost parameters used for new hashes.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login parameters (64 MiB, 3 passes).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 produces and checks argon2id PHC strings.
type Argon2 struct {
	config Config
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh salted key. Input bytes are used as given, with no
// Unicode normalization.
func (a *Argon2) Hash(plain string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches encoded.
func (a *Argon2) Verify(plain, encoded string) (bool, error) {
	p, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	derived := argon2.IDKey([]byte(plain), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(derived, p.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current config.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	return a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(p.key)), nil
}

// Handles reports whether encoded is an argon2id PHC string.
func (a *Argon2) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, argon2Prefix)
}

func decodeArgon2(encoded string) (*argon2Params, error) {
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return nil, ErrInvalidHash
	}
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version", ErrInvalidHash)
	}

	var (
		p        argon2Params
		parallel uint32
	)
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallel); err != nil {
		return nil, fmt.Errorf("%w: parameters", ErrInvalidHash)
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || parallel < uint32(minParallelism) || parallel > 255 {
		return nil, fmt.Errorf("%w: parameters out of range", ErrInvalidHash)
	}
	p.parallelism = uint8(parallel)

	var err error
	if p.salt, err = decodeSegment(fields[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrInvalidHash)
	}
	if p.key, err = decodeSegment(fields[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrInvalidHash)
	}
	return &p, nil
}

// decodeSegment accepts padded and unpadded base64; older rows were padded.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
