package tenantauth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tenantauth/password"
)

var (
	// ErrValidation marks missing or malformed input.
	ErrValidation   = errors.New("validation failed")
	ErrUserNotFound = errors.New("user not found")
	// ErrAmbiguousTenant is matched by *AmbiguousTenantError.
	ErrAmbiguousTenant    = errors.New("email belongs to more than one tenant")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrPasswordExpired    = errors.New("password expired")
	// ErrSetupRequired means the account has no password yet and must go
	// through complete-setup.
	ErrSetupRequired        = errors.New("account setup required")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrThrottleExceeded is matched by *ThrottleError.
	ErrThrottleExceeded = errors.New("too many code requests")
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenExpired     = errors.New("token expired")
	// ErrPolicyViolation is matched by *PolicyViolationError and ErrPasswordReused.
	ErrPolicyViolation = errors.New("password policy violation")
	ErrPasswordReused  = &PolicyViolationError{Reason: "reused", Message: "password was used recently"}
	// ErrStoreUnavailable wraps backend failures. Callers show a generic
	// message; the detail goes to the log.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrEngineNotReady   = errors.New("engine not initialized")
	ErrTOTPNotEnrolled  = errors.New("totp not enrolled")
)

// AmbiguousTenantError lists the tenants an email resolved to, sorted.
type AmbiguousTenantError struct {
	Tenants []string
}

func (e *AmbiguousTenantError) Error() string {
	return ErrAmbiguousTenant.Error() + ": " + strings.Join(e.Tenants, ", ")
}

func (e *AmbiguousTenantError) Is(target error) bool { return target == ErrAmbiguousTenant }

// ThrottleReason distinguishes the two resend denials.
type ThrottleReason string

const (
	ThrottleTooSoon      ThrottleReason = "too_soon"
	ThrottleLimitReached ThrottleReason = "limit_reached"
)

// ThrottleError carries why and for how long a resend is refused.
type ThrottleError struct {
	Reason     ThrottleReason
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return ErrThrottleExceeded.Error() + " (" + string(e.Reason) + ", retry after " +
		strconv.Itoa(int(e.RetryAfter/time.Second)) + "s)"
}

func (e *ThrottleError) Is(target error) bool { return target == ErrThrottleExceeded }

// PolicyViolationError names the password rule that failed.
type PolicyViolationError struct {
	Reason  string
	Message string
}

func (e *PolicyViolationError) Error() string { return e.Message }

func (e *PolicyViolationError) Is(target error) bool { return target == ErrPolicyViolation }

func policyError(err error) error {
	var pe *password.PolicyError
	if errors.As(err, &pe) {
		return &PolicyViolationError{Reason: string(pe.Reason), Message: pe.Error()}
	}
	return err
}

// ErrorCategory is the machine-readable class of an engine error.
type ErrorCategory string

const (
	CategoryValidation         ErrorCategory = "validation_error"
	CategoryNotFound           ErrorCategory = "not_found"
	CategoryAmbiguousTenant    ErrorCategory = "ambiguous_tenant"
	CategoryInvalidCredentials ErrorCategory = "invalid_credentials"
	CategoryAccountLocked      ErrorCategory = "account_locked"
	CategoryAccountDisabled    ErrorCategory = "account_disabled"
	CategoryPasswordExpired    ErrorCategory = "password_expired"
	CategorySetupRequired      ErrorCategory = "setup_required"
	CategoryInvalidCode        ErrorCategory = "invalid_or_expired_code"
	CategoryThrottleExceeded   ErrorCategory = "throttle_exceeded"
	CategoryTokenInvalid       ErrorCategory = "token_invalid"
	CategoryTokenExpired       ErrorCategory = "token_expired"
	CategoryPolicyViolation    ErrorCategory = "policy_violation"
	CategoryStoreError         ErrorCategory = "store_error"
)

var categories = []struct {
	err error
	cat ErrorCategory
}{
	{ErrValidation, CategoryValidation},
	{ErrUserNotFound, CategoryNotFound},
	{ErrTOTPNotEnrolled, CategoryValidation},
	{ErrAmbiguousTenant, CategoryAmbiguousTenant},
	{ErrInvalidCredentials, CategoryInvalidCredentials},
	{ErrAccountLocked, CategoryAccountLocked},
	{ErrAccountDisabled, CategoryAccountDisabled},
	{ErrPasswordExpired, CategoryPasswordExpired},
	{ErrSetupRequired, CategorySetupRequired},
	{ErrInvalidOrExpiredCode, CategoryInvalidCode},
	{ErrThrottleExceeded, CategoryThrottleExceeded},
	{ErrTokenExpired, CategoryTokenExpired},
	{ErrTokenInvalid, CategoryTokenInvalid},
	{ErrPolicyViolation, CategoryPolicyViolation},
}

// Category classifies err. Anything unrecognised, including
// ErrStoreUnavailable, is a store error.
func Category(err error) ErrorCategory {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.cat
		}
	}
	return CategoryStoreError
}
