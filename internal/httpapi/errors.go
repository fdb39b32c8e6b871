package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/tenantauth"
)

var statusByCategory = map[tenantauth.ErrorCategory]int{
	tenantauth.CategoryValidation:         http.StatusBadRequest,
	tenantauth.CategoryNotFound:           http.StatusNotFound,
	tenantauth.CategoryAmbiguousTenant:    http.StatusConflict,
	tenantauth.CategoryInvalidCredentials: http.StatusUnauthorized,
	tenantauth.CategoryAccountLocked:      http.StatusLocked,
	tenantauth.CategoryAccountDisabled:    http.StatusForbidden,
	tenantauth.CategoryPasswordExpired:    http.StatusForbidden,
	tenantauth.CategorySetupRequired:      http.StatusForbidden,
	tenantauth.CategoryInvalidCode:        http.StatusUnauthorized,
	tenantauth.CategoryThrottleExceeded:   http.StatusTooManyRequests,
	tenantauth.CategoryTokenInvalid:       http.StatusUnauthorized,
	tenantauth.CategoryTokenExpired:       http.StatusUnauthorized,
	tenantauth.CategoryPolicyViolation:    http.StatusUnprocessableEntity,
	tenantauth.CategoryStoreError:         http.StatusInternalServerError,
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCategory[tenantauth.Category(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	cat := tenantauth.Category(err)
	status := StatusFor(err)
	body := gin.H{"message": err.Error(), "category": cat}

	var (
		ambiguous *tenantauth.AmbiguousTenantError
		throttle  *tenantauth.ThrottleError
		policy    *tenantauth.PolicyViolationError
	)
	switch {
	case errors.As(err, &ambiguous):
		body["tenants"] = ambiguous.Tenants
	case errors.As(err, &throttle):
		body["reason"] = throttle.Reason
		body["retryAfter"] = int(throttle.RetryAfter.Seconds())
		c.Header("Retry-After", itoa(int(throttle.RetryAfter.Seconds())))
	case errors.As(err, &policy):
		body["reason"] = policy.Reason
		body["message"] = policy.Message
	case cat == tenantauth.CategoryTokenExpired:
		body["message"] = tenantauth.ErrTokenExpired.Error()
	case cat == tenantauth.CategoryTokenInvalid:
		body["message"] = tenantauth.ErrTokenInvalid.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("category", string(cat)),
			zap.Error(err),
		)
		body["message"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": msg, "category": tenantauth.CategoryValidation})
}
