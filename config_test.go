package tenantauth

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with secret", mutate: func(*Config) {}, wantValid: true},
		{name: "short secret", mutate: func(c *Config) { c.JWT.Secret = []byte("short") }},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.JWT.RefreshTTL = time.Hour }},
		{name: "step ttl too long", mutate: func(c *Config) { c.JWT.StepTTL = 2 * time.Hour }},
		{name: "setup ttl zero", mutate: func(c *Config) { c.JWT.SetupTTL = 0 }},
		{
			name: "verify keys without kid",
			mutate: func(c *Config) {
				c.JWT.VerifyKeys = map[string][]byte{"old": []byte(strings.Repeat("o", 32))}
			},
		},
		{
			name: "verify keys with kid",
			mutate: func(c *Config) {
				c.JWT.KeyID = "current"
				c.JWT.VerifyKeys = map[string][]byte{"current": c.JWT.Secret}
			},
			wantValid: true,
		},
		{name: "lockout threshold zero", mutate: func(c *Config) { c.Lockout.Threshold = 0 }},
		{name: "lockout window zero", mutate: func(c *Config) { c.Lockout.Window = 0 }},
		{name: "otp digits too few", mutate: func(c *Config) { c.OTP.Digits = 4 }},
		{name: "otp digits eight", mutate: func(c *Config) { c.OTP.Digits = 8 }, wantValid: true},
		{name: "otp max attempts zero", mutate: func(c *Config) { c.OTP.MaxAttempts = 0 }},
		{name: "resend window zero", mutate: func(c *Config) { c.Resend.Window = 0 }},
		{name: "resend interval zero", mutate: func(c *Config) { c.Resend.MinInterval = 0 }, wantValid: true},
		{name: "totp issuer blank", mutate: func(c *Config) { c.TOTP.Issuer = "  " }},
		{
			name: "totp issuer blank when disabled",
			mutate: func(c *Config) {
				c.TOTP.Enabled = false
				c.TOTP.Issuer = ""
			},
			wantValid: true,
		},
		{name: "totp skew too wide", mutate: func(c *Config) { c.TOTP.Skew = 4 }},
		{name: "password min length below floor", mutate: func(c *Config) { c.Password.MinLength = 6 }},
		{name: "password score out of range", mutate: func(c *Config) { c.Password.MinScore = 5 }},
		{name: "negative max age", mutate: func(c *Config) { c.Password.MaxAge = -time.Hour }},
		{name: "audit without buffer", mutate: func(c *Config) { c.Audit.BufferSize = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.JWT.Secret = []byte(strings.Repeat("k", 32))
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Window != 15*time.Minute || cfg.Lockout.Duration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults %+v", cfg.Lockout)
	}
	if cfg.OTP.Digits != 6 || cfg.OTP.TTL != 10*time.Minute || cfg.OTP.MaxAttempts != 5 {
		t.Fatalf("unexpected otp defaults %+v", cfg.OTP)
	}
	if cfg.Resend.MinInterval != time.Minute || cfg.Resend.MaxPerWindow != 3 || cfg.Resend.Window != 10*time.Minute {
		t.Fatalf("unexpected resend defaults %+v", cfg.Resend)
	}
	if cfg.JWT.AccessTTL != 7*24*time.Hour || cfg.JWT.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected token lifetimes %+v", cfg.JWT)
	}
	if cfg.TOTP.Period != 30 || cfg.TOTP.Skew != 1 || !cfg.TwoFactor.EmailFallback {
		t.Fatal("unexpected two-factor defaults")
	}
}

func TestBuildRequiresStoreAndMailer(t *testing.T) {
	cfg := testConfig()
	if _, err := New().WithConfig(cfg).WithMailer(&captureMailer{}).Build(); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := New().WithConfig(cfg).WithStore(NewMemoryStore()).Build(); err == nil {
		t.Fatal("expected error without mailer")
	}
	b := New().WithConfig(cfg).WithStore(NewMemoryStore()).WithMailer(&captureMailer{})
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}
