package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/tenantauth"
	"github.com/MrEthical07/tenantauth/middleware"
)

const (
	tenantHeader = "X-Tenant-ID"
	userKey      = "tenantauth.user"
)

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Tenant moves the x-tenant-id header and the client address into the
// request context for the engine. Without the header the tenant is inferred
// from a valid bearer token when auth is set; a bad token is ignored here.
func Tenant(auth middleware.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tenantauth.WithClientIP(c.Request.Context(), c.ClientIP())
		if tenantID := strings.TrimSpace(c.GetHeader(tenantHeader)); tenantID != "" {
			ctx = tenantauth.WithTenantID(ctx, tenantID)
		} else if token, ok := middleware.BearerToken(c.GetHeader("Authorization")); ok && auth != nil {
			if u, err := auth.Authenticate(ctx, token); err == nil && u.TenantID != "" {
				ctx = tenantauth.WithTenantID(ctx, u.TenantID)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser authenticates the bearer token and stores the user. The
// user's tenant replaces any tenant header.
func RequireUser(auth middleware.Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			writeError(c, logger, tenantauth.ErrTokenInvalid)
			return
		}
		u, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.Set(userKey, u)
		c.Request = c.Request.WithContext(middleware.WithUser(c.Request.Context(), u))
		c.Next()
	}
}

func currentUser(c *gin.Context) (tenantauth.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return tenantauth.User{}, false
	}
	u, ok := v.(tenantauth.User)
	return u, ok
}

// RequestLimiter admits or rejects one request for key, returning the
// retry hint on rejection.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter applies a token bucket per client address. It is
// process-local; behind several replicas the effective limit multiplies.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	calls    int
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

var _ RequestLimiter = (*IPRateLimiter)(nil)

// Allow reports whether ip may make a request now. It never fails.
func (l *IPRateLimiter) Allow(_ context.Context, ip string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%256 == 0 {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, k)
			}
		}
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// RateLimit rejects clients over their budget with 429. Limiter failures
// are logged and the request proceeds.
func RateLimit(l RequestLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message":    "too many requests",
				"category":   tenantauth.CategoryThrottleExceeded,
				"retryAfter": secs,
			})
			return
		}
		c.Next()
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
