// Package config loads process settings for cmd/authd from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrEthical07/tenantauth"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	ServiceName string
	HTTPPort    string

	// DatabaseURL may be empty in development, which selects the in-memory
	// store.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	StepTTL    time.Duration
	SetupTTL   time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	OTPExposeCode bool
	TOTPEnabled   bool
	EmailFallback bool

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first when present;
// variables already set in the process win.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		ServiceName:    getEnv("SERVICE_NAME", "tenantauth"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getInt("REDIS_DB", 0),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getEnv("JWT_ISSUER", "tenantauth"),
		AccessTTL:      getDuration("ACCESS_TOKEN_TTL", 7*24*time.Hour),
		RefreshTTL:     getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		StepTTL:        getDuration("STEP_TOKEN_TTL", 10*time.Minute),
		SetupTTL:       getDuration("SETUP_TOKEN_TTL", 60*time.Minute),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       getInt("SMTP_PORT", 587),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPassword:   os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
		OTPExposeCode:  getBool("OTP_EXPOSE_CODE", false),
		TOTPEnabled:    getBool("TOTP_ENABLED", true),
		EmailFallback:  getBool("TWO_FACTOR_EMAIL_FALLBACK", true),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 10),
	}

	if len(cfg.JWTSecret) < 32 {
		return Config{}, errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if cfg.Production() {
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required in production")
		}
		if cfg.OTPExposeCode {
			return Config{}, errors.New("OTP_EXPOSE_CODE must be off in production")
		}
	}
	if cfg.RateLimitBurst < 1 {
		cfg.RateLimitBurst = 1
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

// Engine maps the process settings onto engine defaults.
func (c Config) Engine() tenantauth.Config {
	ec := tenantauth.DefaultConfig()
	ec.JWT.Secret = []byte(c.JWTSecret)
	ec.JWT.Issuer = c.JWTIssuer
	ec.JWT.AccessTTL = c.AccessTTL
	ec.JWT.RefreshTTL = c.RefreshTTL
	ec.JWT.StepTTL = c.StepTTL
	ec.JWT.SetupTTL = c.SetupTTL
	ec.OTP.ExposeCode = c.OTPExposeCode
	ec.TOTP.Enabled = c.TOTPEnabled
	ec.TOTP.Issuer = c.ServiceName
	ec.TwoFactor.EmailFallback = c.EmailFallback
	return ec
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
