package tenantauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/tenantauth/internal/audit"
	"github.com/MrEthical07/tenantauth/internal/flows"
	"github.com/MrEthical07/tenantauth/internal/limiters"
	"github.com/MrEthical07/tenantauth/internal/stores"
	"github.com/MrEthical07/tenantauth/jwt"
	"github.com/MrEthical07/tenantauth/password"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine runs every authentication operation. It is safe for concurrent use;
// build it with New().…Build().
type Engine struct {
	config Config
	store  CredentialStore
	mailer Mailer
	logger *zap.Logger
	clock  func() time.Time

	tokens *jwt.Manager
	hasher *password.Multi
	policy password.Policy
	totp   *totpManager

	attempts limiters.AttemptTracker
	resend   limiters.ResendThrottle
	codes    stores.CodeStore
	history  stores.HistoryCache

	audit   *audit.Dispatcher
	metrics *Metrics
	tracer  trace.Tracer

	loginFlow flows.LoginDeps
	resetFlow flows.PasswordResetDeps
}

// Close flushes queued audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) now() time.Time { return e.clock() }

func (e *Engine) metricInc(id MetricID) { e.metrics.Inc(id) }

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "tenantauth."+name)
}

// endSpan records err on span. Expected outcomes such as a wrong password
// are tagged by category only.
func endSpan(span trace.Span, err error) {
	if err != nil {
		cat := Category(err)
		span.SetAttributes(attribute.String("auth.error_category", string(cat)))
		if cat == CategoryStoreError {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "store error")
		}
	}
	span.End()
}

// storeError passes ErrUserNotFound through and wraps everything else as
// ErrStoreUnavailable after logging the detail.
func (e *Engine) storeError(op string, err error) error {
	if err == nil || errors.Is(err, ErrUserNotFound) {
		return err
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	e.logger.Error("credential store failure", zap.String("op", op), zap.Error(err))
	e.metricInc(MetricStoreError)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// backendError wraps limiter and code-store failures.
func (e *Engine) backendError(op string, err error) error {
	e.logger.Error("backend failure", zap.String("op", op), zap.Error(err))
	e.metricInc(MetricStoreError)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) userByID(ctx context.Context, userID int64) (User, error) {
	if userID <= 0 {
		return User{}, fmt.Errorf("%w: user id required", ErrValidation)
	}
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, e.storeError("get_user_by_id", err)
	}
	return u, nil
}

func (e *Engine) isLocked(ctx context.Context, key string) (bool, error) {
	st, err := e.attempts.Status(ctx, key)
	if err != nil {
		return false, e.backendError("attempt_status", err)
	}
	return st.Locked, nil
}

// recordFailure never fails the request; a lost increment is logged.
func (e *Engine) recordFailure(ctx context.Context, key string) {
	st, err := e.attempts.RecordFailure(ctx, key)
	if err != nil {
		e.logger.Error("record failed attempt", zap.String("key", key), zap.Error(err))
		return
	}
	if st.Locked && st.Count == e.config.Lockout.Threshold {
		e.logger.Info("identity locked out", zap.String("key", key), zap.Duration("retry_after", st.RetryAfter))
	}
}

func (e *Engine) resetAttempts(ctx context.Context, key string) {
	if err := e.attempts.Reset(ctx, key); err != nil {
		e.logger.Warn("reset attempts", zap.String("key", key), zap.Error(err))
	}
}

func userKey(userID int64) string { return strconv.FormatInt(userID, 10) }

// issueTokens records the login and mints a pair for u.
func (e *Engine) issueTokens(ctx context.Context, u User) (*Tokens, error) {
	if err := e.store.RecordLogin(ctx, u.ID, e.now()); err != nil {
		e.logger.Warn("record login timestamp", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	pair, err := e.tokens.IssuePair(u.PublicID)
	if err != nil {
		return nil, err
	}
	return &Tokens{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// tokenError classifies a jwt failure. Library detail is dropped so parser
// and signature messages never reach a caller.
func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired), errors.Is(err, ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

// parseStepToken verifies a step token and loads its subject.
func (e *Engine) parseStepToken(ctx context.Context, token string) (User, Step, error) {
	if token == "" {
		return User{}, stepInvalid, fmt.Errorf("%w: token required", ErrValidation)
	}
	claims, err := e.tokens.Parse(token, jwt.TypeStep)
	if err != nil {
		return User{}, stepInvalid, tokenError(err)
	}
	step, err := ParseStep(claims.Step)
	if err != nil {
		return User{}, stepInvalid, err
	}
	u, err := e.store.GetUserByPublicID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, stepInvalid, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
		}
		return User{}, stepInvalid, e.storeError("get_user_by_public_id", err)
	}
	return u, step, nil
}

func (e *Engine) issueStepToken(u User, step Step) (string, time.Time, error) {
	ttl := e.config.JWT.StepTTL
	if step == StepSetup {
		ttl = e.config.JWT.SetupTTL
	}
	return e.tokens.IssueStep(u.PublicID, step.String(), ttl)
}
