package tenantauth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EnableTOTP starts authenticator enrollment. An account that is already
// enrolled gets AlreadyEnabled; an unconfirmed secret is re-issued as is so
// an in-progress setup keeps working.
func (e *Engine) EnableTOTP(ctx context.Context, userID int64) (*TOTPSetup, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return nil, fmt.Errorf("%w: authenticator codes are disabled", ErrValidation)
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TOTPEnabled {
		return &TOTPSetup{AlreadyEnabled: true}, nil
	}

	setup, err := e.totp.provision(u.Email, u.TOTPSecret)
	if err != nil {
		e.logger.Error("totp provisioning failed", zap.Int64("user_id", u.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if u.TOTPSecret == "" {
		if err := e.store.SetTOTPSecret(ctx, u.ID, setup.Secret); err != nil {
			return nil, e.storeError("set_totp_secret", err)
		}
	}
	e.emitAudit(ctx, auditTOTPEnrollment, u, true, nil, map[string]string{
		"reissued": fmt.Sprint(u.TOTPSecret != ""),
	})
	return setup, nil
}

// VerifyTOTP checks code against the stored secret with one period of drift
// either way. Success confirms the enrollment and completes a login.
func (e *Engine) VerifyTOTP(ctx context.Context, userID int64, code string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "VerifyTOTP")
	var err error
	defer func() { endSpan(span, err) }()

	u, err := e.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TOTPSecret == "" {
		err = ErrTOTPNotEnrolled
		return nil, err
	}

	key := attemptKey(u.TenantID, u.Email)
	locked, err := e.isLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	if locked || u.Locked {
		e.recordFailure(ctx, key)
		e.metricInc(MetricLoginLocked)
		err = ErrAccountLocked
		return nil, err
	}
	if !e.totp.verify(u.TOTPSecret, code, e.now()) {
		e.recordFailure(ctx, key)
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditSecondFactorFailed, u, false, ErrInvalidOrExpiredCode, map[string]string{"challenge": "totp"})
		err = ErrInvalidOrExpiredCode
		return nil, err
	}

	if !u.TOTPEnabled {
		if err = e.store.EnableTwoFactor(ctx, u.ID); err != nil {
			err = e.storeError("enable_two_factor", err)
			return nil, err
		}
		u.TOTPEnabled = true
		e.metricInc(MetricTOTPEnrolled)
		e.emitAudit(ctx, auditTOTPEnabled, u, true, nil, nil)
	}
	e.resetAttempts(ctx, key)

	tokens, err := e.issueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSecondFactorSuccess)
	return &LoginResult{Tokens: tokens, User: u}, nil
}

// DisableTOTP clears the secret and the enabled flag.
func (e *Engine) DisableTOTP(ctx context.Context, userID int64) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.store.DisableTwoFactor(ctx, u.ID); err != nil {
		return e.storeError("disable_two_factor", err)
	}
	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditTOTPDisabled, u, true, nil, nil)
	return nil
}

// TOTPStatus reports whether two-factor is enabled for userID.
func (e *Engine) TOTPStatus(ctx context.Context, userID int64) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.TOTPEnabled, nil
}
