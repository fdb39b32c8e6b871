package tenantauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestValidatePasswordReasons(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) {
		c.Password.Strength = func(pw string) int {
			if pw == "Aaaaaaaaa1!" {
				return 0
			}
			return 4
		}
	}))

	tests := []struct {
		pw     string
		reason string
	}{
		{"short1!A", "too_short"},
		{"alllower1!xx", "missing_uppercase"},
		{"ALLUPPER1!XX", "missing_lowercase"},
		{"NoDigits!Here", "missing_digit"},
		{"NoSymbols1Here", "missing_symbol"},
		{"Aaaaaaaaa1!", "too_weak"},
		{testPassword, ""},
	}
	for _, tc := range tests {
		err := f.engine.ValidatePassword(tc.pw)
		if tc.reason == "" {
			if err != nil {
				t.Fatalf("%q: expected valid, got %v", tc.pw, err)
			}
			continue
		}
		var pv *PolicyViolationError
		if !errors.As(err, &pv) || !errors.Is(err, ErrPolicyViolation) {
			t.Fatalf("%q: expected policy violation, got %v", tc.pw, err)
		}
		if pv.Reason != tc.reason {
			t.Fatalf("%q: expected %s, got %s", tc.pw, tc.reason, pv.Reason)
		}
	}
}

func TestIsPasswordReusedBoundedByLimit(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "acme", "alice@example.com", testPassword)
	ctx := context.Background()

	cur := testPassword
	for _, pw := range []string{"Second!Pass#w0rd", "Third!Pass#w0rd", "Fourth!Pass#w0rd"} {
		f.advance(time.Minute)
		if err := f.engine.ChangePassword(ctx, u.ID, cur, pw); err != nil {
			t.Fatalf("ChangePassword to %q failed: %v", pw, err)
		}
		cur = pw
	}

	reused, err := f.engine.IsPasswordReused(ctx, u.ID, testPassword, 0)
	if err != nil || !reused {
		t.Fatalf("expected original password to be in history, got %v %v", reused, err)
	}
	// newest first: Fourth, Third, Second, original
	reused, err = f.engine.IsPasswordReused(ctx, u.ID, testPassword, 3)
	if err != nil || reused {
		t.Fatalf("expected original to fall outside a depth of 3, got %v %v", reused, err)
	}
	reused, err = f.engine.IsPasswordReused(ctx, u.ID, "Brand!New#Passw0rd", 0)
	if err != nil || reused {
		t.Fatalf("expected fresh password to be allowed, got %v %v", reused, err)
	}
}

func TestHistoryCacheIsInvalidatedOnChange(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []fixtureOption
	}{
		{name: "memory"},
		{name: "redis", opts: []fixtureOption{withRedis()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.opts...)
			u := f.addUser(t, "acme", "alice@example.com", testPassword)
			ctx := context.Background()

			// warm the cache before the change
			if reused, err := f.engine.IsPasswordReused(ctx, u.ID, "Second!Pass#w0rd", 0); err != nil || reused {
				t.Fatalf("unexpected reuse result %v %v", reused, err)
			}
			if err := f.engine.ChangePassword(ctx, u.ID, testPassword, "Second!Pass#w0rd"); err != nil {
				t.Fatalf("ChangePassword failed: %v", err)
			}
			reused, err := f.engine.IsPasswordReused(ctx, u.ID, "Second!Pass#w0rd", 0)
			if err != nil || !reused {
				t.Fatalf("expected stale snapshot to be dropped, got %v %v", reused, err)
			}
		})
	}
}

type countingStore struct {
	*MemoryStore
	mu    sync.Mutex
	reads int
}

func (s *countingStore) RecentPasswordHashes(ctx context.Context, userID int64, limit int) ([]string, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.MemoryStore.RecentPasswordHashes(ctx, userID, limit)
}

func (s *countingStore) historyReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func TestShortHistoryServedFromCache(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	engine, err := New().
		WithConfig(testConfig()).
		WithStore(store).
		WithMailer(&captureMailer{}).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	u, err := store.AddUser(User{TenantID: "acme", Email: "alice@example.com", Role: "member", PasswordHash: hash})
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	ctx := context.Background()

	// one entry against a depth of five
	for i := 0; i < 3; i++ {
		reused, err := engine.IsPasswordReused(ctx, u.ID, testPassword, 0)
		if err != nil || !reused {
			t.Fatalf("check %d: expected reuse, got %v %v", i, reused, err)
		}
	}
	if _, err := engine.IsPasswordReused(ctx, u.ID, "Second!Pass#w0rd", 8); err != nil {
		t.Fatalf("deeper check failed: %v", err)
	}
	if n := store.historyReads(); n != 1 {
		t.Fatalf("expected one store read for a short history, got %d", n)
	}

	if err := engine.ChangePassword(ctx, u.ID, testPassword, "Second!Pass#w0rd"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	before := store.historyReads()
	if reused, err := engine.IsPasswordReused(ctx, u.ID, "Second!Pass#w0rd", 0); err != nil || !reused {
		t.Fatalf("expected new password in history, got %v %v", reused, err)
	}
	if n := store.historyReads(); n != before+1 {
		t.Fatalf("expected a change to force one fresh read, got %d -> %d", before, n)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "acme", "alice@example.com", testPassword)
	ctx := context.Background()

	if err := f.engine.ChangePassword(ctx, u.ID, "wrong", "Second!Pass#w0rd"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, u.ID, testPassword, testPassword); !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("expected ErrPasswordReused, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, u.ID, testPassword, "weak"); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}

	f.advance(time.Hour)
	if err := f.engine.ChangePassword(ctx, u.ID, testPassword, "Second!Pass#w0rd"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	stored, _ := f.store.GetUserByID(ctx, u.ID)
	if !stored.PasswordChangedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected changed-at to move, got %v", stored.PasswordChangedAt)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Email: u.Email, Password: "Second!Pass#w0rd", TenantID: "acme"}); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ForgotPassword(context.Background(), "nobody@example.com", "acme"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if f.mailer.count() != 0 {
		t.Fatal("expected no mail for unknown email")
	}
}

func TestForgotPasswordAmbiguousTenant(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "acme", "alice@example.com", testPassword)
	f.addUser(t, "globex", "alice@example.com", testPassword)

	if err := f.engine.ForgotPassword(context.Background(), "alice@example.com", ""); !errors.Is(err, ErrAmbiguousTenant) {
		t.Fatalf("expected ErrAmbiguousTenant, got %v", err)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "acme", "alice@example.com", testPassword)
	ctx := context.Background()

	if err := f.engine.ForgotPassword(ctx, "alice@example.com", "acme"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	msg := f.mailer.last(t)
	if msg.Purpose != PurposePasswordReset {
		t.Fatalf("expected reset purpose, got %s", msg.Purpose)
	}

	// a login code does not reset a password
	if ok, _ := f.engine.VerifyOTP(ctx, u.ID, msg.Code); ok {
		t.Fatal("reset code must not verify as a login code")
	}

	if err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", msg.Code, "weak"); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", "000000x", "Second!Pass#w0rd"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
	if n := f.attempts(t, "acme", "alice@example.com"); n != 1 {
		t.Fatalf("expected wrong reset code to count, got %d", n)
	}

	if err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", msg.Code, "Second!Pass#w0rd"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "Second!Pass#w0rd", TenantID: "acme"}); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}
	if err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", msg.Code, "Third!Pass#w0rd"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected consumed code to fail, got %v", err)
	}
}

func TestResetPasswordRejectsReuse(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "acme", "alice@example.com", testPassword)
	ctx := context.Background()

	if err := f.engine.ForgotPassword(ctx, "alice@example.com", "acme"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	code := f.mailer.last(t).Code
	err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", code, testPassword)
	if !errors.Is(err, ErrPasswordReused) || !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected reuse violation, got %v", err)
	}
	// the rejected attempt leaves the code usable
	if err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", code, "Second!Pass#w0rd"); err != nil {
		t.Fatalf("ResetPassword with the same code failed: %v", err)
	}
	if err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", code, "Third!Pass#w0rd"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected code to be spent by the successful reset, got %v", err)
	}
}

func TestResetPasswordReuseNeedsValidCode(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "acme", "alice@example.com", testPassword)
	ctx := context.Background()

	if err := f.engine.ForgotPassword(ctx, "alice@example.com", "acme"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	// history stays hidden behind the code
	err := f.engine.ResetPassword(ctx, "alice@example.com", "acme", "999999x", testPassword)
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
	if n := f.attempts(t, "acme", "alice@example.com"); n != 1 {
		t.Fatalf("expected wrong code to count once, got %d", n)
	}
}

func TestResetPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ResetPassword(context.Background(), "ghost@example.com", "acme", "123456", "Second!Pass#w0rd")
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
}

func TestCompleteSetup(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "acme", "invitee@example.com", "")
	ctx := context.Background()

	token, exp, err := f.engine.IssueSetupToken(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueSetupToken failed: %v", err)
	}
	if want := f.clock.Now().Add(60 * time.Minute); !exp.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, exp)
	}

	if _, err := f.engine.CompleteSetup(ctx, token, testPassword, "different"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected mismatch to fail validation, got %v", err)
	}
	res, err := f.engine.CompleteSetup(ctx, token, testPassword, testPassword)
	if err != nil {
		t.Fatalf("CompleteSetup failed: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens after setup")
	}
	if _, err := f.engine.CompleteSetup(ctx, token, "Second!Pass#w0rd", "Second!Pass#w0rd"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected used setup token to fail, got %v", err)
	}
	if _, _, err := f.engine.IssueSetupToken(ctx, u.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected no setup token once a password exists, got %v", err)
	}
}

func TestCompleteSetupRejectsLoginToken(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.TOTP.Enabled = false }))
	f.addUser(t, "acme", "alice@example.com", testPassword, func(u *User) { u.TOTPEnabled = true })

	res, err := f.engine.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: testPassword, TenantID: "acme"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := f.engine.CompleteSetup(context.Background(), res.TempToken, testPassword, testPassword); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
