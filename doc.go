// Package tenantauth is the authentication core of a multi-tenant
// application: credential and tenant resolution, lockout, password policy,
// emailed one-time codes, TOTP enrollment and stateless JWT issuance.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// tenantauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] and [Mailer] collaborators, and value types. Flow
// orchestration, Redis scripts, code records and audit dispatch live under
// internal/.
//
// # Multi-instance deployments
//
// Without a Redis client every counter and code is process-local. Lockout
// and resend limits then apply per process, not per deployment.
package tenantauth
