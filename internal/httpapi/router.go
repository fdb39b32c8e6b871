package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/MrEthical07/tenantauth"
)

// Options configures NewRouter. Limiter wins over RPS; with neither set
// requests are not limited.
type Options struct {
	ServiceName string
	Logger      *zap.Logger
	Limiter     RequestLimiter
	RPS         float64
	Burst       int
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
}

func NewRouter(engine *tenantauth.Engine, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "tenantauth"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	h := NewHandler(engine, logger)
	api := r.Group("/")
	switch {
	case opts.Limiter != nil:
		api.Use(RateLimit(opts.Limiter, logger))
	case opts.RPS > 0:
		api.Use(RateLimit(NewIPRateLimiter(opts.RPS, opts.Burst), logger))
	}
	api.Use(Tenant(engine))
	{
		api.POST("/login", h.Login)
		api.POST("/verify-otp", h.VerifyOTP)
		api.POST("/resend-otp", h.ResendOTP)
		api.POST("/refresh", h.Refresh)
		api.POST("/forgot-password", h.ForgotPassword)
		api.POST("/reset-password", h.ResetPassword)
		api.POST("/complete-setup", h.CompleteSetup)
	}

	authed := api.Group("")
	authed.Use(RequireUser(engine, logger))
	{
		authed.GET("/me", h.Me)
		authed.POST("/change-password", h.ChangePassword)
		authed.POST("/2fa/enable", h.EnableTOTP)
		authed.POST("/2fa/verify", h.VerifyTOTP)
		authed.POST("/2fa/disable", h.DisableTOTP)
		authed.GET("/2fa/status", h.TOTPStatus)
	}
	return r
}
