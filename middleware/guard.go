package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/tenantauth"
)

// Authenticator is satisfied by *tenantauth.Engine.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (tenantauth.User, error)
}

var _ Authenticator = (*tenantauth.Engine)(nil)

type userContextKey struct{}

// WithUser attaches u and its tenant to ctx.
func WithUser(ctx context.Context, u tenantauth.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey{}, u)
	return tenantauth.WithTenantID(ctx, u.TenantID)
}

func UserFromContext(ctx context.Context) (tenantauth.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(tenantauth.User)
	return u, ok
}

// RequireUser rejects requests without a valid access token with a JSON 401
// carrying the error category.
func RequireUser(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				unauthorized(w, tenantauth.ErrEngineNotReady)
				return
			}
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, tenantauth.ErrTokenInvalid)
				return
			}
			u, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, err error) {
	cat := tenantauth.Category(err)
	status := http.StatusUnauthorized
	if cat == tenantauth.CategoryAccountDisabled {
		status = http.StatusForbidden
	}
	if cat == tenantauth.CategoryStoreError {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":  http.StatusText(status),
		"category": string(cat),
	})
}
