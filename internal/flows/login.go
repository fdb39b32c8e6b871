package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

// LoginState is a node of the login state machine.
type LoginState uint8

const (
	StateStart LoginState = iota
	StateTenantResolved
	StateLockCheck
	StatePasswordVerified
	StateSecondFactorRequired
	StateAwaitingCode
	StateComplete
)

func (s LoginState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTenantResolved:
		return "tenant_resolved"
	case StateLockCheck:
		return "lock_check"
	case StatePasswordVerified:
		return "password_verified"
	case StateSecondFactorRequired:
		return "second_factor_required"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ChallengeKind is the second factor a challenge expects.
type ChallengeKind uint8

const (
	// ChallengeEmail accepts only an emailed code.
	ChallengeEmail ChallengeKind = iota + 1
	// ChallengeTOTP accepts an authenticator code, and an emailed code when
	// EmailFallback is on.
	ChallengeTOTP
)

// LoginUser is the flow-local view of a credential record.
type LoginUser struct {
	ID                int64
	PublicID          string
	TenantID          string
	Email             string
	PasswordHash      string
	TOTPSecret        string
	TOTPEnabled       bool
	Locked            bool
	Disabled          bool
	PasswordChangedAt time.Time
}

// TokenSet is what a completed login hands back to the host.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginInput is a single login request. Code is an optional second factor
// supplied up front.
type LoginInput struct {
	Email    string
	Password string
	TenantID string
	Code     string
}

// Challenge describes a pending second factor.
type Challenge struct {
	Kind     ChallengeKind
	Token    string
	CodeSent bool
	DevCode  string
}

// LoginOutcome reports where the machine stopped. Tokens is set only in
// StateComplete and Challenge only in StateAwaitingCode.
type LoginOutcome struct {
	State     LoginState
	User      LoginUser
	Tokens    TokenSet
	Challenge *Challenge
}

type LoginMetrics struct {
	LoginSuccess         int
	LoginFailure         int
	LoginLocked          int
	SecondFactorRequired int
	SecondFactorSuccess  int
	SecondFactorFailure  int
}

type LoginEvents struct {
	LoginSuccess        string
	LoginFailure        string
	LoginLocked         string
	SecondFactor        string
	SecondFactorSuccess string
	SecondFactorFailure string
}

// LoginErrors carries host-level sentinel errors used by login flows.
type LoginErrors struct {
	EngineNotReady     error
	UserNotFound       error
	InvalidCredentials error
	AccountLocked      error
	AccountDisabled    error
	PasswordExpired    error
	SetupRequired      error
	InvalidCode        error
}

// LoginDeps captures login and second-factor dependencies.
type LoginDeps struct {
	// TOTPFeature switches authenticator codes on. With it off, two-factor
	// users are challenged by email only.
	TOTPFeature    bool
	EmailFallback  bool
	PasswordMaxAge time.Duration
	Now            func() time.Time

	ResolveUser func(ctx context.Context, email, tenantID string) (LoginUser, error)
	AttemptKey  func(tenantID, email string) string

	IsLocked      func(ctx context.Context, key string) (bool, error)
	RecordFailure func(ctx context.Context, key string)
	ResetAttempts func(ctx context.Context, key string)

	VerifyPassword  func(plain, encoded string) (bool, error)
	UpgradePassword func(ctx context.Context, user LoginUser, plain string)

	VerifyTOTP      func(ctx context.Context, user LoginUser, code string) bool
	VerifyEmailCode func(ctx context.Context, user LoginUser, code string) (bool, error)
	// SendLoginCode emails a code; devCode is non-empty only when the host
	// exposes codes or delivery failed.
	SendLoginCode   func(ctx context.Context, user LoginUser) (sent bool, devCode string, err error)
	IssueChallenge  func(ctx context.Context, user LoginUser, kind ChallengeKind) (string, error)

	// Complete records the login and mints tokens.
	Complete func(ctx context.Context, user LoginUser) (TokenSet, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, user LoginUser, err error, meta func() map[string]string)
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AttemptKey == nil {
		deps.AttemptKey = func(tenantID, email string) string { return tenantID + "::" + email }
	}
	if deps.RecordFailure == nil {
		deps.RecordFailure = func(context.Context, string) {}
	}
	if deps.ResetAttempts == nil {
		deps.ResetAttempts = func(context.Context, string) {}
	}
	if deps.UpgradePassword == nil {
		deps.UpgradePassword = func(context.Context, LoginUser, string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, LoginUser, error, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
}

func loginReady(deps *LoginDeps) bool {
	return deps.ResolveUser != nil &&
		deps.IsLocked != nil &&
		deps.VerifyPassword != nil &&
		deps.IssueChallenge != nil &&
		deps.Complete != nil
}

// RunLogin walks Start through Complete or AwaitingCode. The returned
// outcome always names the last state reached, also on error.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (LoginOutcome, error) {
	normalizeLoginDeps(&deps)
	out := LoginOutcome{State: StateStart}
	if !loginReady(&deps) {
		return out, deps.Errors.EngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	user, err := deps.ResolveUser(ctx, email, strings.TrimSpace(in.TenantID))
	found := err == nil
	if err != nil && !errors.Is(err, deps.Errors.UserNotFound) {
		// ambiguous tenant and store failures: there is no identity key yet
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, LoginUser{Email: email, TenantID: in.TenantID}, err, nil)
		return out, err
	}
	if !found {
		user = LoginUser{Email: email, TenantID: strings.TrimSpace(in.TenantID)}
	}
	out.State = StateTenantResolved
	out.User = user

	key := deps.AttemptKey(user.TenantID, email)
	out.State = StateLockCheck
	locked, err := deps.IsLocked(ctx, key)
	if err != nil {
		return out, err
	}
	if locked || user.Locked {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.LoginLocked)
		deps.EmitAudit(ctx, deps.Events.LoginLocked, false, user, deps.Errors.AccountLocked, nil)
		return out, deps.Errors.AccountLocked
	}

	fail := func(reason string, err error) (LoginOutcome, error) {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return out, err
	}

	if !found {
		return fail("unknown_user", deps.Errors.InvalidCredentials)
	}
	if user.PasswordHash == "" {
		return fail("setup_pending", deps.Errors.SetupRequired)
	}
	ok, err := deps.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		deps.Warn("password verification failed", "user_id", user.PublicID, "error", err)
		return fail("hash_unreadable", deps.Errors.InvalidCredentials)
	}
	if !ok {
		return fail("bad_password", deps.Errors.InvalidCredentials)
	}
	if user.Disabled {
		return fail("disabled", deps.Errors.AccountDisabled)
	}
	if deps.PasswordMaxAge > 0 && !user.PasswordChangedAt.IsZero() &&
		deps.Now().Sub(user.PasswordChangedAt) > deps.PasswordMaxAge {
		return fail("password_expired", deps.Errors.PasswordExpired)
	}
	out.State = StatePasswordVerified
	deps.UpgradePassword(ctx, user, in.Password)

	if !user.TOTPEnabled {
		return completeLogin(ctx, key, out, &deps)
	}

	out.State = StateSecondFactorRequired
	kind := ChallengeEmail
	if deps.TOTPFeature {
		kind = ChallengeTOTP
	}

	if code := strings.TrimSpace(in.Code); code != "" {
		ok, err := acceptSecondFactor(ctx, user, kind, code, &deps)
		if err != nil {
			return out, err
		}
		if !ok {
			return failSecondFactor(ctx, key, out, &deps)
		}
		deps.MetricInc(deps.Metrics.SecondFactorSuccess)
		deps.EmitAudit(ctx, deps.Events.SecondFactorSuccess, true, user, nil, nil)
		return completeLogin(ctx, key, out, &deps)
	}

	token, err := deps.IssueChallenge(ctx, user, kind)
	if err != nil {
		return out, err
	}
	ch := &Challenge{Kind: kind, Token: token}
	if kind == ChallengeEmail || deps.EmailFallback {
		sent, devCode, err := sendLoginCode(ctx, user, &deps)
		if err != nil {
			return out, err
		}
		ch.CodeSent = sent
		ch.DevCode = devCode
	}

	out.State = StateAwaitingCode
	out.Challenge = ch
	deps.MetricInc(deps.Metrics.SecondFactorRequired)
	deps.EmitAudit(ctx, deps.Events.SecondFactor, true, user, nil, func() map[string]string {
		if kind == ChallengeTOTP {
			return map[string]string{"challenge": "totp"}
		}
		return map[string]string{"challenge": "email"}
	})
	return out, nil
}

// RunVerifyCode resumes a login held in AwaitingCode. user has already been
// loaded from the challenge token's subject.
func RunVerifyCode(ctx context.Context, user LoginUser, kind ChallengeKind, code string, deps LoginDeps) (LoginOutcome, error) {
	normalizeLoginDeps(&deps)
	out := LoginOutcome{State: StateAwaitingCode, User: user}
	if deps.IsLocked == nil || deps.Complete == nil {
		return out, deps.Errors.EngineNotReady
	}

	key := deps.AttemptKey(user.TenantID, user.Email)
	locked, err := deps.IsLocked(ctx, key)
	if err != nil {
		return out, err
	}
	if locked || user.Locked {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.LoginLocked)
		deps.EmitAudit(ctx, deps.Events.LoginLocked, false, user, deps.Errors.AccountLocked, nil)
		return out, deps.Errors.AccountLocked
	}
	if user.Disabled {
		deps.RecordFailure(ctx, key)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user, deps.Errors.AccountDisabled, nil)
		return out, deps.Errors.AccountDisabled
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return failSecondFactor(ctx, key, out, &deps)
	}
	ok, err := acceptSecondFactor(ctx, user, kind, code, &deps)
	if err != nil {
		return out, err
	}
	if !ok {
		return failSecondFactor(ctx, key, out, &deps)
	}
	deps.MetricInc(deps.Metrics.SecondFactorSuccess)
	deps.EmitAudit(ctx, deps.Events.SecondFactorSuccess, true, user, nil, nil)
	return completeLogin(ctx, key, out, &deps)
}

// acceptSecondFactor tries the authenticator first, then the emailed code
// where the challenge allows it. Email codes are consumed on match.
func acceptSecondFactor(ctx context.Context, user LoginUser, kind ChallengeKind, code string, deps *LoginDeps) (bool, error) {
	switch kind {
	case ChallengeTOTP:
		if deps.TOTPFeature && deps.VerifyTOTP != nil && deps.VerifyTOTP(ctx, user, code) {
			return true, nil
		}
		if !deps.EmailFallback && deps.TOTPFeature {
			return false, nil
		}
	case ChallengeEmail:
	default:
		return false, nil
	}
	if deps.VerifyEmailCode == nil {
		return false, nil
	}
	return deps.VerifyEmailCode(ctx, user, code)
}

func sendLoginCode(ctx context.Context, user LoginUser, deps *LoginDeps) (bool, string, error) {
	if deps.SendLoginCode == nil {
		return false, "", nil
	}
	return deps.SendLoginCode(ctx, user)
}

func failSecondFactor(ctx context.Context, key string, out LoginOutcome, deps *LoginDeps) (LoginOutcome, error) {
	deps.RecordFailure(ctx, key)
	deps.MetricInc(deps.Metrics.SecondFactorFailure)
	deps.EmitAudit(ctx, deps.Events.SecondFactorFailure, false, out.User, deps.Errors.InvalidCode, nil)
	return out, deps.Errors.InvalidCode
}

func completeLogin(ctx context.Context, key string, out LoginOutcome, deps *LoginDeps) (LoginOutcome, error) {
	deps.ResetAttempts(ctx, key)
	tokens, err := deps.Complete(ctx, out.User)
	if err != nil {
		return out, err
	}
	out.State = StateComplete
	out.Tokens = tokens
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, out.User, nil, nil)
	return out, nil
}
