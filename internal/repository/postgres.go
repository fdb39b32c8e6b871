package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/tenantauth"
)

var _ tenantauth.CredentialStore = (*PostgresCredentialStore)(nil)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresCredentialStore keeps users and password history in Postgres.
// totp_enabled is the only two-factor flag; a stored secret alone does not
// turn the second factor on.
type PostgresCredentialStore struct {
	db DB
}

func NewPostgresCredentialStore(db DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

const userColumns = `id, public_id, tenant_id, email, password_hash, role, totp_secret, totp_enabled,
password_changed_at, locked, disabled, last_login_at`

const (
	findUsersByEmailSQL  = `SELECT ` + userColumns + ` FROM users WHERE email = $1 ORDER BY tenant_id`
	findUserSQL          = `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND email = $2`
	getUserByIDSQL       = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByPublicIDSQL = `SELECT ` + userColumns + ` FROM users WHERE public_id = $1`

	insertUserSQL = `INSERT INTO users (public_id, tenant_id, email, password_hash, role, password_changed_at, locked, disabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + userColumns

	setPasswordSQL   = `UPDATE users SET password_hash = $2, password_changed_at = $3 WHERE id = $1`
	insertHistorySQL = `INSERT INTO password_history (user_id, password_hash, changed_at) VALUES ($1, $2, $3)`
	recentHistorySQL = `SELECT password_hash FROM password_history WHERE user_id = $1 ORDER BY changed_at DESC, id DESC LIMIT $2`
	setTOTPSecretSQL = `UPDATE users SET totp_secret = $2 WHERE id = $1`
	enableTOTPSQL    = `UPDATE users SET totp_enabled = true WHERE id = $1 AND totp_secret <> ''`
	disableTOTPSQL   = `UPDATE users SET totp_secret = '', totp_enabled = false WHERE id = $1`
	recordLoginSQL   = `UPDATE users SET last_login_at = $2 WHERE id = $1`
	setLockedSQL     = `UPDATE users SET locked = $2 WHERE id = $1`
	setDisabledSQL   = `UPDATE users SET disabled = $2 WHERE id = $1`
)

func (s *PostgresCredentialStore) FindUsersByEmail(ctx context.Context, email string) ([]tenantauth.User, error) {
	rows, err := s.db.Query(ctx, findUsersByEmailSQL, tenantauth.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find users by email: %w", err)
	}
	defer rows.Close()

	var users []tenantauth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find users by email: %w", err)
	}
	return users, nil
}

func (s *PostgresCredentialStore) FindUser(ctx context.Context, tenantID, email string) (tenantauth.User, error) {
	return s.getOne(ctx, "find user", findUserSQL, strings.TrimSpace(tenantID), tenantauth.NormalizeEmail(email))
}

func (s *PostgresCredentialStore) GetUserByID(ctx context.Context, id int64) (tenantauth.User, error) {
	return s.getOne(ctx, "get user by id", getUserByIDSQL, id)
}

func (s *PostgresCredentialStore) GetUserByPublicID(ctx context.Context, publicID string) (tenantauth.User, error) {
	return s.getOne(ctx, "get user by public id", getUserByPublicIDSQL, publicID)
}

func (s *PostgresCredentialStore) getOne(ctx context.Context, op, sql string, args ...any) (tenantauth.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenantauth.User{}, tenantauth.ErrUserNotFound
		}
		return tenantauth.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CreateUser inserts u and seeds its password history when a hash is set.
func (s *PostgresCredentialStore) CreateUser(ctx context.Context, u tenantauth.User) (tenantauth.User, error) {
	if u.PublicID == "" {
		u.PublicID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = "member"
	}
	if u.PasswordHash != "" && u.PasswordChangedAt.IsZero() {
		u.PasswordChangedAt = time.Now().UTC()
	}
	var changedAt *time.Time
	if !u.PasswordChangedAt.IsZero() {
		changedAt = &u.PasswordChangedAt
	}

	var created tenantauth.User
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, insertUserSQL,
			u.PublicID,
			strings.TrimSpace(u.TenantID),
			tenantauth.NormalizeEmail(u.Email),
			u.PasswordHash,
			u.Role,
			changedAt,
			u.Locked,
			u.Disabled,
		)
		var err error
		if created, err = scanUser(row); err != nil {
			return err
		}
		if created.PasswordHash == "" {
			return nil
		}
		_, err = tx.Exec(ctx, insertHistorySQL, created.ID, created.PasswordHash, u.PasswordChangedAt)
		return err
	})
	if err != nil {
		return tenantauth.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// SetPassword replaces the hash and appends the history row in one
// transaction.
func (s *PostgresCredentialStore) SetPassword(ctx context.Context, userID int64, hash string, changedAt time.Time) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, setPasswordSQL, userID, hash, changedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return tenantauth.ErrUserNotFound
		}
		_, err = tx.Exec(ctx, insertHistorySQL, userID, hash, changedAt)
		return err
	})
	if err != nil {
		if errors.Is(err, tenantauth.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

func (s *PostgresCredentialStore) RecentPasswordHashes(ctx context.Context, userID int64, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, recentHistorySQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent password hashes: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("recent password hashes: %w", err)
	}
	return hashes, nil
}

func (s *PostgresCredentialStore) SetTOTPSecret(ctx context.Context, userID int64, secret string) error {
	return s.update(ctx, "set totp secret", setTOTPSecretSQL, userID, secret)
}

// EnableTwoFactor refuses accounts without a stored secret.
func (s *PostgresCredentialStore) EnableTwoFactor(ctx context.Context, userID int64) error {
	return s.update(ctx, "enable two factor", enableTOTPSQL, userID)
}

func (s *PostgresCredentialStore) DisableTwoFactor(ctx context.Context, userID int64) error {
	return s.update(ctx, "disable two factor", disableTOTPSQL, userID)
}

func (s *PostgresCredentialStore) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.update(ctx, "record login", recordLoginSQL, userID, at)
}

// SetLocked sets the administrative lock. It is independent of the
// attempt-based lockout.
func (s *PostgresCredentialStore) SetLocked(ctx context.Context, userID int64, locked bool) error {
	return s.update(ctx, "set locked", setLockedSQL, userID, locked)
}

func (s *PostgresCredentialStore) SetDisabled(ctx context.Context, userID int64, disabled bool) error {
	return s.update(ctx, "set disabled", setDisabledSQL, userID, disabled)
}

func (s *PostgresCredentialStore) update(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return tenantauth.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (tenantauth.User, error) {
	var (
		u                  tenantauth.User
		changedAt, lastLog *time.Time
	)
	if err := row.Scan(
		&u.ID,
		&u.PublicID,
		&u.TenantID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.TOTPSecret,
		&u.TOTPEnabled,
		&changedAt,
		&u.Locked,
		&u.Disabled,
		&lastLog,
	); err != nil {
		return tenantauth.User{}, err
	}
	if changedAt != nil {
		u.PasswordChangedAt = changedAt.UTC()
	}
	if lastLog != nil {
		u.LastLoginAt = lastLog.UTC()
	}
	return u, nil
}
