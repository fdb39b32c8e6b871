package flows

import (
	"context"
	"errors"
	"strings"
)

// PasswordResetUser is the flow-local view of the account being reset.
type PasswordResetUser struct {
	ID       int64
	PublicID string
	TenantID string
	Email    string
	Disabled bool
}

// PasswordResetInput confirms a reset with the emailed code.
type PasswordResetInput struct {
	Email       string
	TenantID    string
	Code        string
	NewPassword string
}

type PasswordResetMetrics struct {
	PasswordResetRequest  int
	PasswordResetFailed   int
	PasswordPolicyReject  int
	PasswordReuseRejected int
}

type PasswordResetEvents struct {
	ResetRequested   string
	PasswordChanged  string
	PasswordRejected string
}

type PasswordResetErrors struct {
	EngineNotReady  error
	Validation      error
	UserNotFound    error
	InvalidCode     error
	AccountLocked   error
	AccountDisabled error
	PasswordReused  error
}

type PasswordResetDeps struct {
	ResolveUser func(ctx context.Context, email, tenantID string) (PasswordResetUser, error)
	AttemptKey  func(tenantID, email string) string

	IsLocked      func(ctx context.Context, key string) (bool, error)
	RecordFailure func(ctx context.Context, key string)

	SendResetCode    func(ctx context.Context, user PasswordResetUser) error
	ConsumeResetCode func(ctx context.Context, user PasswordResetUser, code string) (bool, error)
	// MatchResetCode checks a code without spending it. Optional.
	MatchResetCode func(ctx context.Context, user PasswordResetUser, code string) (bool, error)

	ValidatePassword func(plain string) error
	IsReused         func(ctx context.Context, user PasswordResetUser, plain string) (bool, error)
	SetPassword      func(ctx context.Context, user PasswordResetUser, plain string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, user PasswordResetUser, err error, meta func() map[string]string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.AttemptKey == nil {
		deps.AttemptKey = func(tenantID, email string) string { return tenantID + "::" + email }
	}
	if deps.RecordFailure == nil {
		deps.RecordFailure = func(context.Context, string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, PasswordResetUser, error, func() map[string]string) {}
	}
}

// RunRequestPasswordReset emails a reset code. Unknown addresses succeed
// silently; an ambiguous tenant is returned so the caller can ask for one.
func RunRequestPasswordReset(ctx context.Context, email, tenantID string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.ResolveUser == nil || deps.SendResetCode == nil {
		return deps.Errors.EngineNotReady
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return deps.Errors.Validation
	}

	user, err := deps.ResolveUser(ctx, email, strings.TrimSpace(tenantID))
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			deps.EmitAudit(ctx, deps.Events.ResetRequested, true, PasswordResetUser{Email: email, TenantID: tenantID}, nil, func() map[string]string {
				return map[string]string{"enumeration_safe": "true"}
			})
			return nil
		}
		return err
	}
	if user.Disabled {
		// same answer as an unknown address
		return nil
	}

	if err := deps.SendResetCode(ctx, user); err != nil {
		deps.EmitAudit(ctx, deps.Events.ResetRequested, false, user, err, nil)
		return err
	}
	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.ResetRequested, true, user, nil, nil)
	return nil
}

// RunConfirmPasswordReset checks the code and sets the new password. The
// policy is checked before the code so a weak choice does not burn it. Reuse
// is checked only once the code is known good; with MatchResetCode that
// happens before the code is spent, so a reused choice keeps it valid.
func RunConfirmPasswordReset(ctx context.Context, in PasswordResetInput, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.ResolveUser == nil ||
		deps.IsLocked == nil ||
		deps.ConsumeResetCode == nil ||
		deps.ValidatePassword == nil ||
		deps.SetPassword == nil {
		return deps.Errors.EngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || strings.TrimSpace(in.Code) == "" || in.NewPassword == "" {
		return deps.Errors.Validation
	}

	user, err := deps.ResolveUser(ctx, email, strings.TrimSpace(in.TenantID))
	found := err == nil
	if err != nil && !errors.Is(err, deps.Errors.UserNotFound) {
		return err
	}
	if !found {
		user = PasswordResetUser{Email: email, TenantID: strings.TrimSpace(in.TenantID)}
	}
	key := deps.AttemptKey(user.TenantID, email)

	locked, err := deps.IsLocked(ctx, key)
	if err != nil {
		return err
	}
	if locked {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.PasswordResetFailed)
		return deps.Errors.AccountLocked
	}

	if err := deps.ValidatePassword(in.NewPassword); err != nil {
		deps.MetricInc(deps.Metrics.PasswordPolicyReject)
		deps.EmitAudit(ctx, deps.Events.PasswordRejected, false, user, err, func() map[string]string {
			return map[string]string{"flow": "reset"}
		})
		return err
	}

	if !found {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.PasswordResetFailed)
		return deps.Errors.InvalidCode
	}
	badCode := func() error {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.PasswordResetFailed)
		deps.EmitAudit(ctx, deps.Events.PasswordChanged, false, user, deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"flow": "reset"}
		})
		return deps.Errors.InvalidCode
	}

	reuseChecked := false
	if deps.MatchResetCode != nil && deps.IsReused != nil {
		ok, err := deps.MatchResetCode(ctx, user, in.Code)
		if err != nil {
			return err
		}
		if !ok {
			return badCode()
		}
		if err := checkResetReuse(ctx, user, in.NewPassword, deps); err != nil {
			return err
		}
		reuseChecked = true
	}

	ok, err := deps.ConsumeResetCode(ctx, user, in.Code)
	if err != nil {
		return err
	}
	if !ok {
		return badCode()
	}
	if user.Disabled {
		return deps.Errors.AccountDisabled
	}
	if !reuseChecked && deps.IsReused != nil {
		if err := checkResetReuse(ctx, user, in.NewPassword, deps); err != nil {
			return err
		}
	}

	if err := deps.SetPassword(ctx, user, in.NewPassword); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetFailed)
		return err
	}
	deps.EmitAudit(ctx, deps.Events.PasswordChanged, true, user, nil, func() map[string]string {
		return map[string]string{"flow": "reset"}
	})
	return nil
}

func checkResetReuse(ctx context.Context, user PasswordResetUser, plain string, deps PasswordResetDeps) error {
	reused, err := deps.IsReused(ctx, user, plain)
	if err != nil {
		return err
	}
	if reused {
		deps.MetricInc(deps.Metrics.PasswordReuseRejected)
		deps.EmitAudit(ctx, deps.Events.PasswordRejected, false, user, deps.Errors.PasswordReused, func() map[string]string {
			return map[string]string{"flow": "reset", "reason": "reused"}
		})
		return deps.Errors.PasswordReused
	}
	return nil
}
