// Package httpapi exposes the engine over JSON HTTP with gin.
//
// Every error body is {"message", "category"} plus category-specific fields:
// tenants for ambiguous_tenant, retryAfter and reason for throttle_exceeded,
// reason for policy_violation. Store failures are logged and answered with
// a generic message.
package httpapi
