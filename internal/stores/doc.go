// Package stores keeps short-lived authentication state outside the
// credential database: hashed one-time codes and the password-history cache.
//
// Codes are stored as SHA-256 digests in a versioned binary record with a TTL.
// Consume runs under WATCH/MULTI with retry so a code is accepted at most once
// even when two requests race. Comparisons are constant time.
//
// The history cache is never authoritative. A miss means "ask the credential
// store", and the cache only ever holds the hash list, never a verdict.
package stores
