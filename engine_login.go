package tenantauth

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/tenantauth/internal/flows"
	"go.uber.org/zap"
)

// Login verifies a password and either completes the login or opens a
// second-factor challenge. Unknown emails and wrong passwords both return
// ErrInvalidCredentials and count toward the lockout.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Login")
	var err error
	defer func() { endSpan(span, err) }()

	if NormalizeEmail(req.Email) == "" || req.Password == "" {
		err = fmt.Errorf("%w: email and password required", ErrValidation)
		return nil, err
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = TenantIDFromContext(ctx)
	}

	var resolved User
	deps := e.loginFlow
	deps.ResolveUser = func(ctx context.Context, email, tenantID string) (flows.LoginUser, error) {
		u, err := e.ResolveUser(ctx, email, tenantID)
		if err != nil {
			return flows.LoginUser{}, err
		}
		resolved = u
		return toLoginUser(u), nil
	}

	start := time.Now()
	out, err := flows.RunLogin(ctx, flows.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		TenantID: tenantID,
		Code:     req.OTP,
	}, deps)
	e.metrics.Observe(time.Since(start))
	if err != nil {
		return nil, err
	}
	return loginResult(resolved, out), nil
}

// VerifyLoginOTP completes a challenge opened by Login. A StepOTP token
// accepts only an emailed code; StepTOTP accepts an authenticator code, or
// an emailed one when the email fallback is on.
func (e *Engine) VerifyLoginOTP(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "VerifyLoginOTP")
	var err error
	defer func() { endSpan(span, err) }()

	u, step, err := e.parseStepToken(ctx, tempToken)
	if err != nil {
		return nil, err
	}
	var kind flows.ChallengeKind
	switch step {
	case StepOTP:
		kind = flows.ChallengeEmail
	case StepTOTP:
		kind = flows.ChallengeTOTP
	case StepSetup:
		err = fmt.Errorf("%w: setup token cannot complete a login", ErrTokenInvalid)
		return nil, err
	default:
		err = fmt.Errorf("%w: unknown step", ErrTokenInvalid)
		return nil, err
	}

	out, err := flows.RunVerifyCode(ctx, toLoginUser(u), kind, code, e.loginFlow)
	if err != nil {
		return nil, err
	}
	return loginResult(u, out), nil
}

func loginResult(u User, out flows.LoginOutcome) *LoginResult {
	res := &LoginResult{User: u}
	switch out.State {
	case flows.StateComplete:
		res.Tokens = &Tokens{
			AccessToken:      out.Tokens.AccessToken,
			RefreshToken:     out.Tokens.RefreshToken,
			AccessExpiresAt:  out.Tokens.AccessExpiresAt,
			RefreshExpiresAt: out.Tokens.RefreshExpiresAt,
		}
	case flows.StateAwaitingCode:
		res.RequiresTwoFactor = true
		if out.Challenge != nil {
			res.TempToken = out.Challenge.Token
			res.CodeSent = out.Challenge.CodeSent
			res.DevCode = out.Challenge.DevCode
			res.Step = StepOTP
			if out.Challenge.Kind == flows.ChallengeTOTP {
				res.Step = StepTOTP
			}
		}
	}
	return res
}

func toLoginUser(u User) flows.LoginUser {
	return flows.LoginUser{
		ID:                u.ID,
		PublicID:          u.PublicID,
		TenantID:          u.TenantID,
		Email:             u.Email,
		PasswordHash:      u.PasswordHash,
		TOTPSecret:        u.TOTPSecret,
		TOTPEnabled:       u.TOTPEnabled,
		Locked:            u.Locked,
		Disabled:          u.Disabled,
		PasswordChangedAt: u.PasswordChangedAt,
	}
}

// upgradePassword re-hashes legacy or weaker hashes after a successful
// password check. The password age is preserved.
func (e *Engine) upgradePassword(ctx context.Context, u flows.LoginUser, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	changedAt := u.PasswordChangedAt
	if changedAt.IsZero() {
		changedAt = e.now()
	}
	if err := e.store.SetPassword(ctx, u.ID, hash, changedAt); err != nil {
		e.logger.Warn("password rehash not stored", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	e.invalidateHistory(ctx, u.ID)
}

func (e *Engine) newLoginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		TOTPFeature:    e.config.TOTP.Enabled,
		EmailFallback:  e.config.TwoFactor.EmailFallback,
		PasswordMaxAge: e.config.Password.MaxAge,
		Now:            e.now,

		ResolveUser: func(ctx context.Context, email, tenantID string) (flows.LoginUser, error) {
			u, err := e.ResolveUser(ctx, email, tenantID)
			if err != nil {
				return flows.LoginUser{}, err
			}
			return toLoginUser(u), nil
		},
		AttemptKey: attemptKey,

		IsLocked:      e.isLocked,
		RecordFailure: e.recordFailure,
		ResetAttempts: e.resetAttempts,

		VerifyPassword:  e.hasher.Verify,
		UpgradePassword: e.upgradePassword,

		VerifyTOTP: func(_ context.Context, u flows.LoginUser, code string) bool {
			return e.totp.verify(u.TOTPSecret, code, e.now())
		},
		VerifyEmailCode: func(ctx context.Context, u flows.LoginUser, code string) (bool, error) {
			return e.consumeCode(ctx, PurposeLogin, u.ID, code)
		},
		SendLoginCode: func(ctx context.Context, u flows.LoginUser) (bool, string, error) {
			// the proactive send obeys the same throttle as an explicit resend
			d, err := e.reserveSend(ctx, u.ID)
			if err != nil {
				return false, "", err
			}
			if d.Verdict != ResendAllowed {
				return false, "", nil
			}
			res, err := e.sendCode(ctx, u.ID, u.Email, u.TenantID, PurposeLogin)
			return res.Sent, res.Code, err
		},
		IssueChallenge: func(_ context.Context, u flows.LoginUser, kind flows.ChallengeKind) (string, error) {
			step := StepOTP
			if kind == flows.ChallengeTOTP {
				step = StepTOTP
			}
			token, _, err := e.tokens.IssueStep(u.PublicID, step.String(), e.config.JWT.StepTTL)
			return token, err
		},

		Complete: func(ctx context.Context, u flows.LoginUser) (flows.TokenSet, error) {
			t, err := e.issueTokens(ctx, User{ID: u.ID, PublicID: u.PublicID})
			if err != nil {
				return flows.TokenSet{}, err
			}
			return flows.TokenSet{
				AccessToken:      t.AccessToken,
				RefreshToken:     t.RefreshToken,
				AccessExpiresAt:  t.AccessExpiresAt,
				RefreshExpiresAt: t.RefreshExpiresAt,
			}, nil
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, event string, success bool, u flows.LoginUser, err error, meta func() map[string]string) {
			var m map[string]string
			if meta != nil {
				m = meta()
			}
			e.emitAudit(ctx, event, User{PublicID: u.PublicID, TenantID: u.TenantID, Email: u.Email}, success, err, m)
		},
		Warn: func(msg string, kv ...any) { e.logger.Sugar().Warnw(msg, kv...) },

		Metrics: flows.LoginMetrics{
			LoginSuccess:         int(MetricLoginSuccess),
			LoginFailure:         int(MetricLoginFailure),
			LoginLocked:          int(MetricLoginLocked),
			SecondFactorRequired: int(MetricSecondFactorRequired),
			SecondFactorSuccess:  int(MetricSecondFactorSuccess),
			SecondFactorFailure:  int(MetricSecondFactorFailure),
		},
		Events: flows.LoginEvents{
			LoginSuccess:        auditLoginSuccess,
			LoginFailure:        auditLoginFailure,
			LoginLocked:         auditLoginLocked,
			SecondFactor:        auditSecondFactor,
			SecondFactorSuccess: auditSecondFactorPassed,
			SecondFactorFailure: auditSecondFactorFailed,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			UserNotFound:       ErrUserNotFound,
			InvalidCredentials: ErrInvalidCredentials,
			AccountLocked:      ErrAccountLocked,
			AccountDisabled:    ErrAccountDisabled,
			PasswordExpired:    ErrPasswordExpired,
			SetupRequired:      ErrSetupRequired,
			InvalidCode:        ErrInvalidOrExpiredCode,
		},
	}
}
