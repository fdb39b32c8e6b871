package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MrEthical07/tenantauth"
)

func TestIPRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, _ := l.Allow(ctx, "10.0.0.1")
		require.True(t, ok, "request %d", i)
	}
	ok, wait, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, wait, time.Duration(0))

	ok, _, _ = l.Allow(ctx, "10.0.0.2")
	require.True(t, ok, "limits are per address")

	now = now.Add(time.Second)
	ok, _, _ = l.Allow(ctx, "10.0.0.1")
	require.True(t, ok)
}

func TestIPRateLimiterEvictsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(10, 10)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	l.Allow(ctx, "10.0.0.1")
	now = now.Add(time.Hour)
	for i := 0; i < 255; i++ {
		l.Allow(ctx, "10.0.0.2")
	}
	_, kept := l.visitors["10.0.0.1"]
	require.False(t, kept)
	require.Len(t, l.visitors, 1)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{tenantauth.ErrValidation, http.StatusBadRequest},
		{tenantauth.ErrUserNotFound, http.StatusNotFound},
		{&tenantauth.AmbiguousTenantError{Tenants: []string{"a", "b"}}, http.StatusConflict},
		{tenantauth.ErrInvalidCredentials, http.StatusUnauthorized},
		{tenantauth.ErrAccountLocked, http.StatusLocked},
		{tenantauth.ErrAccountDisabled, http.StatusForbidden},
		{tenantauth.ErrInvalidOrExpiredCode, http.StatusUnauthorized},
		{&tenantauth.ThrottleError{Reason: "min_interval", RetryAfter: time.Second}, http.StatusTooManyRequests},
		{tenantauth.ErrTokenExpired, http.StatusUnauthorized},
		{fmt.Errorf("%w: boom", tenantauth.ErrStoreUnavailable), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		require.Equal(t, tc.status, StatusFor(tc.err), tc.err.Error())
	}
}

func TestWriteErrorHidesStoreFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, zap.NewNop(), fmt.Errorf("%w: dial tcp 10.0.0.5:5432", tenantauth.ErrStoreUnavailable))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.5")
	require.Contains(t, rec.Body.String(), `"internal error"`)
}

func TestWriteErrorThrottleFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, zap.NewNop(), &tenantauth.ThrottleError{Reason: "limit_reached", RetryAfter: 90 * time.Second})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "90", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), `"retryAfter":90`)
	require.Contains(t, rec.Body.String(), `"reason":"limit_reached"`)
}

type tokenTenants map[string]string

func (m tokenTenants) Authenticate(_ context.Context, token string) (tenantauth.User, error) {
	tenantID, ok := m[token]
	if !ok {
		return tenantauth.User{}, tenantauth.ErrTokenInvalid
	}
	return tenantauth.User{ID: 1, TenantID: tenantID}, nil
}

func TestTenantMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Tenant(tokenTenants{"good": "globex"}))
	var tenant string
	r.GET("/", func(c *gin.Context) {
		tenant = tenantauth.TenantIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	for _, tc := range []struct {
		name   string
		header string
		auth   string
		want   string
	}{
		{name: "header", header: "  acme ", want: "acme"},
		{name: "header wins over bearer", header: "acme", auth: "Bearer good", want: "acme"},
		{name: "bearer", auth: "Bearer good", want: "globex"},
		{name: "bad bearer ignored", auth: "Bearer stale", want: ""},
		{name: "none", want: ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tenant = "unset"
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("X-Tenant-ID", tc.header)
			}
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.Equal(t, http.StatusNoContent, rec.Code)
			require.Equal(t, tc.want, tenant)
		})
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis: connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(failingLimiter{}, zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
