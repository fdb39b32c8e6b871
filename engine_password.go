package tenantauth

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/tenantauth/internal/flows"
	"go.uber.org/zap"
)

// ValidatePassword applies the strength policy. Failures are
// *PolicyViolationError naming the first rule broken.
func (e *Engine) ValidatePassword(plain string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.policy.Validate(plain); err != nil {
		return policyError(err)
	}
	return nil
}

// IsPasswordReused reports whether candidate matches one of the last limit
// passwords of userID. limit <= 0 uses the configured history depth.
func (e *Engine) IsPasswordReused(ctx context.Context, userID int64, candidate string, limit int) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	if limit <= 0 {
		limit = e.config.Password.HistoryLimit
	}
	if limit <= 0 || candidate == "" {
		return false, nil
	}
	hashes, err := e.passwordHistory(ctx, userID, limit)
	if err != nil {
		return false, err
	}
	if len(hashes) > limit {
		hashes = hashes[:limit]
	}
	for _, h := range hashes {
		ok, err := e.hasher.Verify(candidate, h)
		if err != nil {
			// unreadable history entries cannot match
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// passwordHistory serves the cached snapshot when it is deep enough and
// falls back to the store. Snapshots are fetched at least HistoryLimit deep,
// so one shorter than that is the full history and always serves. Cache
// failures are not fatal.
func (e *Engine) passwordHistory(ctx context.Context, userID int64, limit int) ([]string, error) {
	depth := e.config.Password.HistoryLimit
	if limit > depth {
		depth = limit
	}
	if cached, ok, err := e.history.Get(ctx, userID); err == nil && ok && (len(cached) >= limit || len(cached) < e.config.Password.HistoryLimit) {
		return cached, nil
	} else if err != nil {
		e.logger.Warn("password history cache read", zap.Int64("user_id", userID), zap.Error(err))
	}

	hashes, err := e.store.RecentPasswordHashes(ctx, userID, depth)
	if err != nil {
		return nil, e.storeError("recent_password_hashes", err)
	}
	if err := e.history.Put(ctx, userID, hashes); err != nil {
		e.logger.Warn("password history cache write", zap.Int64("user_id", userID), zap.Error(err))
	}
	return hashes, nil
}

func (e *Engine) invalidateHistory(ctx context.Context, userID int64) {
	if err := e.history.Invalidate(ctx, userID); err != nil {
		e.logger.Warn("password history cache invalidate", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// setPassword hashes plain and stores it with history.
func (e *Engine) setPassword(ctx context.Context, userID int64, plain string) error {
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.store.SetPassword(ctx, userID, hash, e.now()); err != nil {
		return e.storeError("set_password", err)
	}
	e.invalidateHistory(ctx, userID)
	e.metricInc(MetricPasswordChanged)
	return nil
}

// checkNewPassword applies policy then reuse for an identified account.
func (e *Engine) checkNewPassword(ctx context.Context, u User, plain, flow string) error {
	if err := e.ValidatePassword(plain); err != nil {
		e.metricInc(MetricPasswordPolicyRejected)
		e.emitAudit(ctx, auditPasswordRejected, u, false, err, map[string]string{"flow": flow})
		return err
	}
	reused, err := e.IsPasswordReused(ctx, u.ID, plain, 0)
	if err != nil {
		return err
	}
	if reused {
		e.metricInc(MetricPasswordReuseRejected)
		e.emitAudit(ctx, auditPasswordRejected, u, false, ErrPasswordReused, map[string]string{"flow": flow, "reason": "reused"})
		return ErrPasswordReused
	}
	return nil
}

// ForgotPassword emails a reset code. It returns nil for unknown addresses
// so callers cannot enumerate accounts.
func (e *Engine) ForgotPassword(ctx context.Context, email, tenantID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if tenantID == "" {
		tenantID = TenantIDFromContext(ctx)
	}
	return flows.RunRequestPasswordReset(ctx, email, tenantID, e.resetFlow)
}

// ResetPassword sets a new password using the emailed reset code. Wrong
// codes count toward the lockout of the account.
func (e *Engine) ResetPassword(ctx context.Context, email, tenantID, code, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if tenantID == "" {
		tenantID = TenantIDFromContext(ctx)
	}
	return flows.RunConfirmPasswordReset(ctx, flows.PasswordResetInput{
		Email:       email,
		TenantID:    tenantID,
		Code:        code,
		NewPassword: newPassword,
	}, e.resetFlow)
}

// ChangePassword replaces the password of an authenticated user.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if current == "" || next == "" {
		return fmt.Errorf("%w: current and new password required", ErrValidation)
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := e.hasher.Verify(current, u.PasswordHash)
	if err != nil || !ok {
		e.recordFailure(ctx, attemptKey(u.TenantID, u.Email))
		return ErrInvalidCredentials
	}
	if err := e.checkNewPassword(ctx, u, next, "change"); err != nil {
		return err
	}
	if err := e.setPassword(ctx, u.ID, next); err != nil {
		return err
	}
	e.emitAudit(ctx, auditPasswordChanged, u, true, nil, map[string]string{"flow": "change"})
	return nil
}

// IssueSetupToken mints the invitation token for an account without a
// password. It is the only way to obtain a StepSetup token.
func (e *Engine) IssueSetupToken(ctx context.Context, userID int64) (string, time.Time, error) {
	if e == nil || e.store == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !u.SetupPending() {
		return "", time.Time{}, fmt.Errorf("%w: account already has a password", ErrValidation)
	}
	return e.issueStepToken(u, StepSetup)
}

// CompleteSetup sets the first password of an invited account and logs it
// in. The token stops working once a password exists.
func (e *Engine) CompleteSetup(ctx context.Context, setupToken, newPassword, confirmPassword string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if newPassword == "" || newPassword != confirmPassword {
		return nil, fmt.Errorf("%w: passwords do not match", ErrValidation)
	}
	u, step, err := e.parseStepToken(ctx, setupToken)
	if err != nil {
		return nil, err
	}
	if step != StepSetup {
		return nil, fmt.Errorf("%w: not a setup token", ErrTokenInvalid)
	}
	if !u.SetupPending() {
		return nil, fmt.Errorf("%w: setup already completed", ErrTokenInvalid)
	}
	if u.Disabled {
		return nil, ErrAccountDisabled
	}
	if err := e.checkNewPassword(ctx, u, newPassword, "setup"); err != nil {
		return nil, err
	}
	if err := e.setPassword(ctx, u.ID, newPassword); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditSetupCompleted, u, true, nil, nil)

	tokens, err := e.issueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: tokens, User: u}, nil
}

func toResetUser(u User) flows.PasswordResetUser {
	return flows.PasswordResetUser{
		ID:       u.ID,
		PublicID: u.PublicID,
		TenantID: u.TenantID,
		Email:    u.Email,
		Disabled: u.Disabled,
	}
}

func (e *Engine) newPasswordResetDeps() flows.PasswordResetDeps {
	return flows.PasswordResetDeps{
		ResolveUser: func(ctx context.Context, email, tenantID string) (flows.PasswordResetUser, error) {
			u, err := e.ResolveUser(ctx, email, tenantID)
			if err != nil {
				return flows.PasswordResetUser{}, err
			}
			return toResetUser(u), nil
		},
		AttemptKey:    attemptKey,
		IsLocked:      e.isLocked,
		RecordFailure: e.recordFailure,

		SendResetCode: func(ctx context.Context, u flows.PasswordResetUser) error {
			d, err := e.reserveSend(ctx, u.ID)
			if err != nil {
				return err
			}
			if d.Verdict != ResendAllowed {
				// silently dropped; the response must not differ from a send
				e.metricInc(MetricOTPResendThrottled)
				return nil
			}
			_, err = e.sendCode(ctx, u.ID, u.Email, u.TenantID, PurposePasswordReset)
			return err
		},
		ConsumeResetCode: func(ctx context.Context, u flows.PasswordResetUser, code string) (bool, error) {
			return e.consumeCode(ctx, PurposePasswordReset, u.ID, code)
		},
		MatchResetCode: func(ctx context.Context, u flows.PasswordResetUser, code string) (bool, error) {
			return e.matchCode(ctx, PurposePasswordReset, u.ID, code)
		},

		ValidatePassword: e.ValidatePassword,
		IsReused: func(ctx context.Context, u flows.PasswordResetUser, plain string) (bool, error) {
			return e.IsPasswordReused(ctx, u.ID, plain, 0)
		},
		SetPassword: func(ctx context.Context, u flows.PasswordResetUser, plain string) error {
			return e.setPassword(ctx, u.ID, plain)
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, event string, success bool, u flows.PasswordResetUser, err error, meta func() map[string]string) {
			var m map[string]string
			if meta != nil {
				m = meta()
			}
			e.emitAudit(ctx, event, User{ID: u.ID, PublicID: u.PublicID, TenantID: u.TenantID, Email: u.Email}, success, err, m)
		},

		Metrics: flows.PasswordResetMetrics{
			PasswordResetRequest:  int(MetricPasswordResetRequested),
			PasswordResetFailed:   int(MetricPasswordResetFailed),
			PasswordPolicyReject:  int(MetricPasswordPolicyRejected),
			PasswordReuseRejected: int(MetricPasswordReuseRejected),
		},
		Events: flows.PasswordResetEvents{
			ResetRequested:   auditResetRequested,
			PasswordChanged:  auditPasswordChanged,
			PasswordRejected: auditPasswordRejected,
		},
		Errors: flows.PasswordResetErrors{
			EngineNotReady:  ErrEngineNotReady,
			Validation:      ErrValidation,
			UserNotFound:    ErrUserNotFound,
			InvalidCode:     ErrInvalidOrExpiredCode,
			AccountLocked:   ErrAccountLocked,
			AccountDisabled: ErrAccountDisabled,
			PasswordReused:  ErrPasswordReused,
		},
	}
}
