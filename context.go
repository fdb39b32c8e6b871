package tenantauth

import (
	"context"
	"strings"
)

type clientIPContextKey struct{}
type tenantIDContextKey struct{}

// WithClientIP attaches the caller's address for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches an explicit tenant. Engine methods that take an
// optional tenant fall back to this value when their argument is empty.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, strings.TrimSpace(tenantID))
}

// TenantIDFromContext returns the tenant set by WithTenantID, or "".
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	return tenantID
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// NormalizeEmail trims and lower-cases an address the way the store keys it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func attemptKey(tenantID, email string) string {
	return tenantID + "::" + email
}
