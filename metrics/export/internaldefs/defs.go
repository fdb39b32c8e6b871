package internaldefs

import (
	"github.com/MrEthical07/tenantauth"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   tenantauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   tenantauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: tenantauth.MetricLoginSuccess, Name: "tenantauth_login_success_total", Help: "Completed logins."},
	{ID: tenantauth.MetricLoginFailure, Name: "tenantauth_login_failure_total", Help: "Rejected login attempts."},
	{ID: tenantauth.MetricLoginLocked, Name: "tenantauth_login_locked_total", Help: "Login attempts refused because the identity was locked."},
	{ID: tenantauth.MetricLoginAmbiguousTenant, Name: "tenantauth_login_ambiguous_tenant_total", Help: "Logins that could not pick a tenant for the email."},
	{ID: tenantauth.MetricSecondFactorRequired, Name: "tenantauth_second_factor_required_total", Help: "Logins held for a second factor."},
	{ID: tenantauth.MetricSecondFactorSuccess, Name: "tenantauth_second_factor_success_total", Help: "Accepted second-factor codes."},
	{ID: tenantauth.MetricSecondFactorFailure, Name: "tenantauth_second_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: tenantauth.MetricOTPSent, Name: "tenantauth_otp_sent_total", Help: "Email codes handed to the mailer."},
	{ID: tenantauth.MetricOTPDeliveryFailed, Name: "tenantauth_otp_delivery_failed_total", Help: "Email codes the mailer could not deliver."},
	{ID: tenantauth.MetricOTPResendThrottled, Name: "tenantauth_otp_resend_throttled_total", Help: "Code sends refused by the resend throttle."},
	{ID: tenantauth.MetricTOTPEnrolled, Name: "tenantauth_totp_enrolled_total", Help: "Authenticator enrollments confirmed."},
	{ID: tenantauth.MetricTOTPDisabled, Name: "tenantauth_totp_disabled_total", Help: "Authenticator enrollments removed."},
	{ID: tenantauth.MetricRefreshSuccess, Name: "tenantauth_refresh_success_total", Help: "Refresh tokens rotated."},
	{ID: tenantauth.MetricRefreshFailure, Name: "tenantauth_refresh_failure_total", Help: "Refresh tokens rejected."},
	{ID: tenantauth.MetricPasswordChanged, Name: "tenantauth_password_changed_total", Help: "Passwords set by change, reset or setup."},
	{ID: tenantauth.MetricPasswordPolicyRejected, Name: "tenantauth_password_policy_rejected_total", Help: "New passwords refused by the strength policy."},
	{ID: tenantauth.MetricPasswordReuseRejected, Name: "tenantauth_password_reuse_rejected_total", Help: "New passwords refused as recently used."},
	{ID: tenantauth.MetricPasswordResetRequested, Name: "tenantauth_password_reset_requested_total", Help: "Password reset codes requested."},
	{ID: tenantauth.MetricPasswordResetFailed, Name: "tenantauth_password_reset_failed_total", Help: "Password reset confirmations rejected."},
	{ID: tenantauth.MetricStoreError, Name: "tenantauth_store_error_total", Help: "Credential store failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: tenantauth.MetricLoginLatency, Name: "tenantauth_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramBounds are the upper bounds of the engine buckets, in seconds.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
