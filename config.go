package tenantauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/tenantauth/password"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override fields; Build calls Validate.
type Config struct {
	JWT       JWTConfig
	Lockout   LockoutConfig
	OTP       OTPConfig
	Resend    ResendConfig
	TOTP      TOTPConfig
	TwoFactor TwoFactorConfig
	Password  PasswordConfig
	History   HistoryConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. All tokens are HS256 with Secret.
type JWTConfig struct {
	Secret []byte
	// KeyID is written to the kid header. VerifyKeys lets tokens signed under
	// an earlier kid keep verifying during a rotation.
	KeyID      string
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
	Leeway     time.Duration

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// StepTTL bounds login challenges; SetupTTL bounds invitation tokens.
	StepTTL  time.Duration
	SetupTTL time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig tunes the failed-attempt tracker keyed by tenant::email.
type LockoutConfig struct {
	Threshold int
	// Window slides: every failure pushes expiry out again.
	Window   time.Duration
	Duration time.Duration
}

/*
====================================
ONE-TIME CODE CONFIG
====================================
*/

type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	// ExposeCode returns generated codes to the caller. Never enable in
	// production.
	ExposeCode bool
}

type ResendConfig struct {
	MinInterval  time.Duration
	MaxPerWindow int
	Window       time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls authenticator-app codes. With Enabled false, users who
// have two-factor on are challenged by email code only.
type TOTPConfig struct {
	Enabled bool
	Issuer  string
	Period  uint
	// Skew is the number of periods accepted on either side of now.
	Skew   uint
	QRSize int
}

type TwoFactorConfig struct {
	// EmailFallback emails a code alongside every TOTP challenge and accepts
	// it in place of the authenticator code.
	EmailFallback bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	MinLength int
	// MinScore is the zxcvbn floor, 1..4.
	MinScore     int
	HistoryLimit int
	// MaxAge expires passwords older than this. Zero disables expiry.
	MaxAge         time.Duration
	UpgradeOnLogin bool
	Argon2         password.Config
	// Strength overrides the estimator. Nil uses zxcvbn.
	Strength password.StrengthFunc
}

type HistoryConfig struct {
	// CacheTTL is clamped to five minutes.
	CacheTTL time.Duration
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.Secret must still be set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:     "tenantauth",
			AccessTTL:  7 * 24 * time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
			StepTTL:    10 * time.Minute,
			SetupTTL:   60 * time.Minute,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  15 * time.Minute,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		Resend: ResendConfig{
			MinInterval:  60 * time.Second,
			MaxPerWindow: 3,
			Window:       600 * time.Second,
		},
		TOTP: TOTPConfig{
			Enabled: true,
			Issuer:  "tenantauth",
			Period:  30,
			Skew:    1,
			QRSize:  200,
		},
		TwoFactor: TwoFactorConfig{
			EmailFallback: true,
		},
		Password: PasswordConfig{
			MinLength:      password.DefaultMinLength,
			MinScore:       password.DefaultMinScore,
			HistoryLimit:   5,
			UpgradeOnLogin: true,
			Argon2:         password.DefaultConfig(),
		},
		History: HistoryConfig{
			CacheTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = append([]byte(nil), cfg.JWT.Secret...)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = append([]byte(nil), key...)
		}
	}
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT AccessTTL and RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.StepTTL <= 0 || c.JWT.StepTTL > time.Hour {
		return errors.New("JWT StepTTL must be in (0, 1h]")
	}
	if c.JWT.SetupTTL <= 0 || c.JWT.SetupTTL > 7*24*time.Hour {
		return errors.New("JWT SetupTTL must be in (0, 7d]")
	}
	if len(c.JWT.VerifyKeys) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return errors.New("JWT KeyID is required with VerifyKeys")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("Lockout Window and Duration must be > 0")
	}

	// One-time codes
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("OTP MaxAttempts must be >= 1")
	}
	if c.Resend.MinInterval < 0 || c.Resend.Window <= 0 || c.Resend.MaxPerWindow < 1 {
		return errors.New("Resend MinInterval must be >= 0, Window > 0 and MaxPerWindow >= 1")
	}

	// TOTP
	if c.TOTP.Enabled {
		if strings.TrimSpace(c.TOTP.Issuer) == "" {
			return errors.New("TOTP Issuer must be set")
		}
		if c.TOTP.Period == 0 {
			return errors.New("TOTP Period must be > 0")
		}
		if c.TOTP.Skew > 3 {
			return errors.New("TOTP Skew must be <= 3")
		}
	}

	// Password
	if c.Password.MinLength < password.DefaultMinLength {
		return errors.New("Password MinLength must be >= 10")
	}
	if c.Password.MinScore < 1 || c.Password.MinScore > 4 {
		return errors.New("Password MinScore must be between 1 and 4")
	}
	if c.Password.HistoryLimit < 0 {
		return errors.New("Password HistoryLimit must be >= 0")
	}
	if c.Password.MaxAge < 0 {
		return errors.New("Password MaxAge must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
