package tenantauth

import (
	"context"

	"github.com/MrEthical07/tenantauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one audit record. Events never contain secrets.
type AuditEvent = audit.Event

// AuditSink receives audit events off the request path.
type AuditSink = audit.Sink

// NewZapAuditSink logs each event as a structured line.
func NewZapAuditSink(logger *zap.Logger) AuditSink { return audit.NewZapSink(logger) }

// NewChannelAuditSink buffers events on a channel.
func NewChannelAuditSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

const (
	auditLoginSuccess       = "login_success"
	auditLoginFailure       = "login_failure"
	auditLoginLocked        = "login_locked"
	auditSecondFactor       = "second_factor_required"
	auditSecondFactorPassed = "second_factor_success"
	auditSecondFactorFailed = "second_factor_failure"
	auditOTPSent            = "otp_sent"
	auditOTPThrottled       = "otp_throttled"
	auditTOTPEnrollment     = "totp_enrollment_started"
	auditTOTPEnabled        = "totp_enabled"
	auditTOTPDisabled       = "totp_disabled"
	auditRefresh            = "token_refresh"
	auditPasswordChanged    = "password_changed"
	auditPasswordRejected   = "password_rejected"
	auditResetRequested     = "password_reset_requested"
	auditSetupCompleted     = "account_setup_completed"
)

func (e *Engine) emitAudit(ctx context.Context, typ string, user User, success bool, err error, meta map[string]string) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		Time:     e.now(),
		Type:     typ,
		TenantID: user.TenantID,
		UserID:   user.PublicID,
		Email:    user.Email,
		IP:       clientIPFromContext(ctx),
		Success:  success,
		Metadata: meta,
	}
	if err != nil {
		ev.Reason = string(Category(err))
	}
	e.audit.Emit(ctx, ev)
}

// AuditDropped reports events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}
