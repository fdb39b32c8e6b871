package tenantauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/tenantauth/internal"
	"github.com/MrEthical07/tenantauth/internal/limiters"
	"github.com/MrEthical07/tenantauth/internal/stores"
	"go.uber.org/zap"
)

// ResendDecision is the answer of CanResendOTP.
type ResendDecision = limiters.ResendDecision

// ResendVerdict is ResendAllowed, ResendTooSoon or ResendLimitReached.
type ResendVerdict = limiters.ResendVerdict

const (
	ResendAllowed      = limiters.ResendAllowed
	ResendTooSoon      = limiters.ResendTooSoon
	ResendLimitReached = limiters.ResendLimitReached
)

func codeKey(purpose CodePurpose, userID int64) string {
	return string(purpose) + ":" + userKey(userID)
}

// SendOTP generates a login code for userID and mails it to email, or to the
// account address when email is empty. Result.Code is set only when codes
// are exposed for diagnostics or delivery failed.
func (e *Engine) SendOTP(ctx context.Context, email string, userID int64) (OTPSendResult, error) {
	if e == nil || e.store == nil {
		return OTPSendResult{}, ErrEngineNotReady
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return OTPSendResult{}, err
	}
	to := NormalizeEmail(email)
	if to == "" {
		to = u.Email
	}
	res, err := e.sendCode(ctx, u.ID, to, u.TenantID, PurposeLogin)
	if err == nil && res.Sent {
		if err := e.resend.Note(ctx, userKey(u.ID)); err != nil {
			e.logger.Warn("resend throttle not updated", zap.Int64("user_id", u.ID), zap.Error(err))
		}
	}
	return res, err
}

// reserveSend claims a throttle slot for userID before a code is mailed. A
// slot is spent even when delivery then fails.
func (e *Engine) reserveSend(ctx context.Context, userID int64) (ResendDecision, error) {
	if e == nil || e.resend == nil {
		return ResendDecision{}, ErrEngineNotReady
	}
	d, err := e.resend.Reserve(ctx, userKey(userID))
	if err != nil {
		return ResendDecision{}, e.backendError("resend_reserve", err)
	}
	return d, nil
}

func (e *Engine) sendCode(ctx context.Context, userID int64, to, tenantID string, purpose CodePurpose) (OTPSendResult, error) {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return OTPSendResult{}, fmt.Errorf("generate one-time code: %w", err)
	}
	if err := e.codes.Save(ctx, codeKey(purpose, userID), internal.HashCode(code), e.config.OTP.TTL); err != nil {
		return OTPSendResult{}, e.backendError("save_code", err)
	}

	res := OTPSendResult{ExpiresIn: e.config.OTP.TTL}
	err = e.mailer.SendCode(ctx, CodeMessage{
		To:        to,
		TenantID:  tenantID,
		Code:      code,
		Purpose:   purpose,
		ExpiresIn: e.config.OTP.TTL,
	})
	if err != nil {
		e.logger.Warn("one-time code delivery failed",
			zap.Int64("user_id", userID),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		e.metricInc(MetricOTPDeliveryFailed)
		res.Code = code
		return res, nil
	}

	res.Sent = true
	if e.config.OTP.ExposeCode {
		res.Code = code
	}
	e.metricInc(MetricOTPSent)
	e.emitAudit(ctx, auditOTPSent, User{ID: userID, TenantID: tenantID, Email: to}, true, nil, map[string]string{
		"purpose": string(purpose),
	})
	return res, nil
}

// VerifyOTP consumes a login code. A mismatch returns false with a nil
// error; after the configured number of wrong guesses the code is gone.
func (e *Engine) VerifyOTP(ctx context.Context, userID int64, code string) (bool, error) {
	if e == nil || e.codes == nil {
		return false, ErrEngineNotReady
	}
	return e.consumeCode(ctx, PurposeLogin, userID, code)
}

func (e *Engine) consumeCode(ctx context.Context, purpose CodePurpose, userID int64, code string) (bool, error) {
	return e.settleCode(ctx, purpose, userID, code, e.codes.Consume)
}

// matchCode checks a code without spending it.
func (e *Engine) matchCode(ctx context.Context, purpose CodePurpose, userID int64, code string) (bool, error) {
	return e.settleCode(ctx, purpose, userID, code, e.codes.Match)
}

func (e *Engine) settleCode(ctx context.Context, purpose CodePurpose, userID int64, code string,
	op func(context.Context, string, [32]byte, int) error) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" || userID <= 0 {
		return false, nil
	}
	err := op(ctx, codeKey(purpose, userID), internal.HashCode(code), e.config.OTP.MaxAttempts)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, stores.ErrCodeNotFound),
		errors.Is(err, stores.ErrCodeMismatch),
		errors.Is(err, stores.ErrCodeAttemptsExceeded):
		return false, nil
	default:
		return false, e.backendError("consume_code", err)
	}
}

// CanResendOTP reports whether userID may be sent another code now.
func (e *Engine) CanResendOTP(ctx context.Context, userID int64) (ResendDecision, error) {
	if e == nil || e.resend == nil {
		return ResendDecision{}, ErrEngineNotReady
	}
	d, err := e.resend.Check(ctx, userKey(userID))
	if err != nil {
		return ResendDecision{}, e.backendError("resend_check", err)
	}
	return d, nil
}

// ResendOTP sends a fresh login code for the challenge in tempToken, or
// returns a *ThrottleError. The throttle slot is taken before the mailer
// runs, so concurrent resends for one user send at most one code.
func (e *Engine) ResendOTP(ctx context.Context, tempToken string) (OTPSendResult, error) {
	if e == nil || e.store == nil {
		return OTPSendResult{}, ErrEngineNotReady
	}
	u, step, err := e.parseStepToken(ctx, tempToken)
	if err != nil {
		return OTPSendResult{}, err
	}
	switch step {
	case StepOTP:
	case StepTOTP:
		if e.config.TOTP.Enabled && !e.config.TwoFactor.EmailFallback {
			return OTPSendResult{}, fmt.Errorf("%w: challenge does not accept emailed codes", ErrValidation)
		}
	case StepSetup:
		return OTPSendResult{}, fmt.Errorf("%w: setup token cannot request codes", ErrTokenInvalid)
	default:
		return OTPSendResult{}, fmt.Errorf("%w: unknown step", ErrTokenInvalid)
	}

	d, err := e.reserveSend(ctx, u.ID)
	if err != nil {
		return OTPSendResult{}, err
	}
	if d.Verdict != ResendAllowed {
		reason := ThrottleTooSoon
		if d.Verdict == ResendLimitReached {
			reason = ThrottleLimitReached
		}
		terr := &ThrottleError{Reason: reason, RetryAfter: d.RetryAfter}
		e.metricInc(MetricOTPResendThrottled)
		e.emitAudit(ctx, auditOTPThrottled, u, false, terr, map[string]string{"reason": string(reason)})
		return OTPSendResult{}, terr
	}
	return e.sendCode(ctx, u.ID, u.Email, u.TenantID, PurposeLogin)
}
