package limiters

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// FallbackAttemptTracker prefers primary and switches to secondary, per call,
// whenever primary reports ErrBackendUnavailable. Counts recorded on the
// secondary do not migrate back.
type FallbackAttemptTracker struct {
	primary   AttemptTracker
	secondary AttemptTracker
	logger    *zap.Logger
}

var _ AttemptTracker = (*FallbackAttemptTracker)(nil)

// NewFallbackAttemptTracker wraps primary with secondary.
func NewFallbackAttemptTracker(primary, secondary AttemptTracker, logger *zap.Logger) *FallbackAttemptTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackAttemptTracker{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackAttemptTracker) degraded(op string, err error) bool {
	if !errors.Is(err, ErrBackendUnavailable) {
		return false
	}
	f.logger.Warn("attempt tracker degraded to local memory", zap.String("op", op), zap.Error(err))
	return true
}

// RecordFailure implements AttemptTracker.
func (f *FallbackAttemptTracker) RecordFailure(ctx context.Context, key string) (AttemptState, error) {
	st, err := f.primary.RecordFailure(ctx, key)
	if f.degraded("record_failure", err) {
		return f.secondary.RecordFailure(ctx, key)
	}
	return st, err
}

// Status implements AttemptTracker.
func (f *FallbackAttemptTracker) Status(ctx context.Context, key string) (AttemptState, error) {
	st, err := f.primary.Status(ctx, key)
	if f.degraded("status", err) {
		return f.secondary.Status(ctx, key)
	}
	return st, err
}

// Reset clears both backends so a stale local lock cannot outlive a success.
func (f *FallbackAttemptTracker) Reset(ctx context.Context, key string) error {
	_ = f.secondary.Reset(ctx, key)
	err := f.primary.Reset(ctx, key)
	if f.degraded("reset", err) {
		return nil
	}
	return err
}

// FallbackResendThrottle is the ResendThrottle counterpart of
// FallbackAttemptTracker.
type FallbackResendThrottle struct {
	primary   ResendThrottle
	secondary ResendThrottle
	logger    *zap.Logger
}

var _ ResendThrottle = (*FallbackResendThrottle)(nil)

// NewFallbackResendThrottle wraps primary with secondary.
func NewFallbackResendThrottle(primary, secondary ResendThrottle, logger *zap.Logger) *FallbackResendThrottle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackResendThrottle{primary: primary, secondary: secondary, logger: logger}
}

// Check implements ResendThrottle.
func (f *FallbackResendThrottle) Check(ctx context.Context, key string) (ResendDecision, error) {
	d, err := f.primary.Check(ctx, key)
	if errors.Is(err, ErrBackendUnavailable) {
		f.logger.Warn("resend throttle degraded to local memory", zap.String("op", "check"), zap.Error(err))
		return f.secondary.Check(ctx, key)
	}
	return d, err
}

// Note implements ResendThrottle.
func (f *FallbackResendThrottle) Note(ctx context.Context, key string) error {
	err := f.primary.Note(ctx, key)
	if errors.Is(err, ErrBackendUnavailable) {
		f.logger.Warn("resend throttle degraded to local memory", zap.String("op", "note"), zap.Error(err))
		return f.secondary.Note(ctx, key)
	}
	return err
}

// Reserve implements ResendThrottle.
func (f *FallbackResendThrottle) Reserve(ctx context.Context, key string) (ResendDecision, error) {
	d, err := f.primary.Reserve(ctx, key)
	if errors.Is(err, ErrBackendUnavailable) {
		f.logger.Warn("resend throttle degraded to local memory", zap.String("op", "reserve"), zap.Error(err))
		return f.secondary.Reserve(ctx, key)
	}
	return d, err
}
