package tenantauth

import (
	"errors"
	"time"

	"github.com/MrEthical07/tenantauth/internal/audit"
	"github.com/MrEthical07/tenantauth/internal/limiters"
	"github.com/MrEthical07/tenantauth/internal/stores"
	"github.com/MrEthical07/tenantauth/jwt"
	"github.com/MrEthical07/tenantauth/password"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/MrEthical07/tenantauth"

// Builder assembles an Engine. Configure it once during startup; Build may
// only be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store  CredentialStore
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time

	auditSink      AuditSink
	tracerProvider trace.TracerProvider

	attempts limiters.AttemptTracker
	resend   limiters.ResendThrottle

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs counters, codes and the history cache with Redis. Without
// it every backend is process-local.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock replaces time.Now for tokens, codes and the in-memory backends.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithAttemptTracker replaces the lockout backend chosen by Build.
func (b *Builder) WithAttemptTracker(t limiters.AttemptTracker) *Builder {
	b.attempts = t
	return b
}

// WithResendThrottle replaces the resend backend chosen by Build.
func (b *Builder) WithResendThrottle(t limiters.ResendThrottle) *Builder {
	b.resend = t
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		Secret:     cfg.JWT.Secret,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewMulti(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	policy := password.Policy{
		MinLength: cfg.Password.MinLength,
		MinScore:  cfg.Password.MinScore,
		Strength:  cfg.Password.Strength,
	}

	// -------- COUNTERS, CODES, HISTORY --------
	attemptCfg := limiters.AttemptConfig{
		Threshold:    cfg.Lockout.Threshold,
		Window:       cfg.Lockout.Window,
		LockDuration: cfg.Lockout.Duration,
	}
	resendCfg := limiters.ResendConfig{
		MinInterval:  cfg.Resend.MinInterval,
		MaxPerWindow: cfg.Resend.MaxPerWindow,
		Window:       cfg.Resend.Window,
	}

	attempts := b.attempts
	resend := b.resend
	var codes stores.CodeStore
	var history stores.HistoryCache

	if b.redis != nil {
		if attempts == nil {
			attempts = limiters.NewFallbackAttemptTracker(
				limiters.NewRedisAttemptTracker(b.redis, attemptCfg),
				limiters.NewMemoryAttemptTracker(attemptCfg, now),
				logger,
			)
		}
		if resend == nil {
			resend = limiters.NewFallbackResendThrottle(
				limiters.NewRedisResendThrottle(b.redis, resendCfg, now),
				limiters.NewMemoryResendThrottle(resendCfg, now),
				logger,
			)
		}
		codes = stores.NewRedisCodeStore(b.redis, "otp", now)
		history = stores.NewRedisHistoryCache(b.redis, cfg.History.CacheTTL)
	} else {
		logger.Warn("no redis client configured; lockout counters, resend throttles and one-time codes are process-local and not safe across multiple instances")
		if attempts == nil {
			attempts = limiters.NewMemoryAttemptTracker(attemptCfg, now)
		}
		if resend == nil {
			resend = limiters.NewMemoryResendThrottle(resendCfg, now)
		}
		codes = stores.NewMemoryCodeStore(now)
		history = stores.NewMemoryHistoryCache(cfg.History.CacheTTL, now)
	}

	// -------- OBSERVABILITY --------
	sink := b.auditSink
	if sink == nil {
		sink = NewZapAuditSink(logger)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	e := &Engine{
		config:   cfg,
		store:    b.store,
		mailer:   b.mailer,
		logger:   logger,
		clock:    now,
		tokens:   tokens,
		hasher:   hasher,
		policy:   policy,
		attempts: attempts,
		resend:   resend,
		codes:    codes,
		history:  history,
		totp:     newTOTPManager(cfg.TOTP),
		audit:    dispatcher,
		metrics:  NewMetrics(cfg.Metrics),
		tracer:   tp.Tracer(instrumentationName),
	}
	e.loginFlow = e.newLoginDeps()
	e.resetFlow = e.newPasswordResetDeps()

	b.built = true
	return e, nil
}
