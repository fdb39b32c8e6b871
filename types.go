package tenantauth

import (
	"context"
	"time"
)

// User is the credential record as loaded from the store. It is a value:
// engine code never mutates a User, it calls the matching store operation.
type User struct {
	ID       int64
	PublicID string
	TenantID string
	// Email is stored lower-cased. (TenantID, Email) is unique.
	Email        string
	PasswordHash string
	Role         string
	// TOTPSecret is base32. A secret with TOTPEnabled false is an enrollment
	// that was never confirmed.
	TOTPSecret        string
	TOTPEnabled       bool
	PasswordChangedAt time.Time
	Locked            bool
	Disabled          bool
	LastLoginAt       time.Time
}

// SetupPending reports whether the account still needs its first password.
func (u User) SetupPending() bool { return u.PasswordHash == "" }

// CredentialStore is the persistence boundary for users and password history.
// Lookups return ErrUserNotFound when nothing matches; other failures are
// wrapped by the engine as ErrStoreUnavailable.
type CredentialStore interface {
	FindUsersByEmail(ctx context.Context, email string) ([]User, error)
	FindUser(ctx context.Context, tenantID, email string) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	GetUserByPublicID(ctx context.Context, publicID string) (User, error)

	// SetPassword replaces the hash and appends it to history in one
	// transaction.
	SetPassword(ctx context.Context, userID int64, hash string, changedAt time.Time) error
	// RecentPasswordHashes returns up to limit hashes, newest first.
	RecentPasswordHashes(ctx context.Context, userID int64, limit int) ([]string, error)

	SetTOTPSecret(ctx context.Context, userID int64, secret string) error
	EnableTwoFactor(ctx context.Context, userID int64) error
	// DisableTwoFactor clears the secret and the flag.
	DisableTwoFactor(ctx context.Context, userID int64) error

	RecordLogin(ctx context.Context, userID int64, at time.Time) error
}

// CodePurpose separates one-time codes issued for different flows.
type CodePurpose string

const (
	PurposeLogin         CodePurpose = "login"
	PurposePasswordReset CodePurpose = "password_reset"
)

// CodeMessage is what a Mailer delivers.
type CodeMessage struct {
	To        string
	TenantID  string
	Code      string
	Purpose   CodePurpose
	ExpiresIn time.Duration
}

// Mailer delivers one-time codes.
type Mailer interface {
	SendCode(ctx context.Context, msg CodeMessage) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg CodeMessage) error

func (f MailerFunc) SendCode(ctx context.Context, msg CodeMessage) error { return f(ctx, msg) }

// Tokens is a freshly minted access/refresh pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginRequest is the input to Engine.Login. TenantID may be empty; OTP is
// an optional second-factor code supplied up front.
type LoginRequest struct {
	Email    string
	Password string
	TenantID string
	OTP      string
}

// LoginResult is either a completed login (Tokens set) or a second-factor
// challenge (RequiresTwoFactor with TempToken).
type LoginResult struct {
	Tokens *Tokens
	User   User

	RequiresTwoFactor bool
	TempToken         string
	Step              Step
	// CodeSent reports whether an email code went out with the challenge.
	CodeSent bool
	// DevCode is the emailed code, set only when diagnostics exposure is
	// on or delivery failed.
	DevCode string
}

// OTPSendResult is the outcome of SendOTP.
type OTPSendResult struct {
	Sent      bool
	Code      string
	ExpiresIn time.Duration
}

// TOTPSetup is returned by EnableTOTP.
type TOTPSetup struct {
	AlreadyEnabled bool
	Secret         string
	URI            string
	// QRCode is a PNG data URL of URI.
	QRCode string
}
