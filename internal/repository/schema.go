package repository

// Schema is the table layout the store expects. Migrations are owned by the
// host application; this is applied as-is by local tooling and tests only.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                  BIGSERIAL PRIMARY KEY,
	public_id           TEXT NOT NULL UNIQUE,
	tenant_id           TEXT NOT NULL,
	email               TEXT NOT NULL,
	password_hash       TEXT NOT NULL DEFAULT '',
	role                TEXT NOT NULL DEFAULT 'member',
	totp_secret         TEXT NOT NULL DEFAULT '',
	totp_enabled        BOOLEAN NOT NULL DEFAULT false,
	password_changed_at TIMESTAMPTZ,
	locked              BOOLEAN NOT NULL DEFAULT false,
	disabled            BOOLEAN NOT NULL DEFAULT false,
	last_login_at       TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, email)
);

CREATE INDEX IF NOT EXISTS users_email_idx ON users (email);

CREATE TABLE IF NOT EXISTS password_history (
	id            BIGSERIAL PRIMARY KEY,
	user_id       BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	password_hash TEXT NOT NULL,
	changed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS password_history_user_idx ON password_history (user_id, changed_at DESC);
`
