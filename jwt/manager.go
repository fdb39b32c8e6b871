package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type is the value of the "typ" claim.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypeStep    Type = "step"
)

var (
	// ErrExpired is returned when an otherwise valid token is past its exp.
	ErrExpired = errors.New("jwt: token expired")
	// ErrInvalid covers bad signatures, malformed input and unknown keys.
	ErrInvalid = errors.New("jwt: token invalid")
	// ErrWrongType is returned when the typ claim does not match the caller's expectation.
	ErrWrongType = errors.New("jwt: unexpected token type")
)

// Config controls signing keys and lifetimes.
type Config struct {
	// Secret signs new tokens.
	Secret []byte
	// KeyID is written to the kid header. With VerifyKeys set, tokens are
	// verified by kid so older secrets keep working during rotation.
	KeyID      string
	VerifyKeys map[string][]byte

	Issuer   string
	Audience string
	Leeway   time.Duration

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Now func() time.Time
}

// Claims is the body shared by all token types. Step is set only on step tokens.
type Claims struct {
	Type Type   `json:"typ"`
	Step string `json:"step,omitempty"`
	jwt.RegisteredClaims
}

// Pair is an access token with its refresh token.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Manager issues and parses tokens. It holds no mutable state.
type Manager struct {
	config Config
}

// NewManager validates cfg.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("KeyID is required when VerifyKeys is set")
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg}, nil
}

// IssuePair mints an access token and a refresh token for subject.
func (m *Manager) IssuePair(subject string) (Pair, error) {
	access, accessExp, err := m.sign(subject, TypeAccess, "", m.config.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := m.sign(subject, TypeRefresh, "", m.config.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueStep mints a step token that records which verification the holder
// still owes.
func (m *Manager) IssueStep(subject, step string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("invalid step TTL")
	}
	return m.sign(subject, TypeStep, step, ttl)
}

// Rotate verifies a refresh token and mints a fresh pair for its subject.
func (m *Manager) Rotate(refreshToken string) (Pair, error) {
	claims, err := m.Parse(refreshToken, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return m.IssuePair(claims.Subject)
}

// Parse verifies signature, expiry and the typ claim.
func (m *Manager) Parse(token string, want Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, m.verifyKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (m *Manager) sign(subject string, typ Type, step string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("empty subject")
	}
	now := m.config.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Type: typ,
		Step: step,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *Manager) verifyKey(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return m.config.Secret, nil
}
