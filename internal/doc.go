// Package internal holds helpers private to tenantauth: code generation and
// hashing. Sub-packages carry the engine's moving parts.
//
//   - audit: async event dispatch to sinks
//   - config: environment loading for cmd/authd
//   - flows: the login state machine and other engine flows
//   - httpapi: gin transport
//   - limiters: attempt tracking and resend throttling
//   - mailer: code delivery
//   - rate: Redis request windows shared by HTTP replicas
//   - repository: Postgres credential store
//   - stores: one-time codes and the password-history cache
package internal
