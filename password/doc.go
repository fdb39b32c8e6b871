// Package password hashes, verifies and grades user passwords.
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Stored bcrypt hashes ($2a$, $2b$, $2y$) still verify through [Multi], and
// [Multi.NeedsUpgrade] reports them so callers can re-hash on the next
// successful login.
//
// [Policy] enforces the composition rules and the strength floor. Reuse checks
// against history live in the engine, which owns storage.
package password
