package internaldefs

import (
	goAccount "github.com/MrEthical07/goAccount"
)

type CounterDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAccount.MetricLoginSuccess, Name: "goaccount_login_success_total", Help: "Logins that returned tokens."},
	{ID: goAccount.MetricLoginFailure, Name: "goaccount_login_failure_total", Help: "Logins rejected for bad credentials or policy."},
	{ID: goAccount.MetricLoginMFARequired, Name: "goaccount_login_mfa_required_total", Help: "Logins that stopped at the MFA step."},
	{ID: goAccount.MetricLoginApprovalPending, Name: "goaccount_login_approval_pending_total", Help: "Logins from an unrecognized subnet awaiting approval."},
	{ID: goAccount.MetricMFASuccess, Name: "goaccount_mfa_success_total", Help: "Accepted TOTP or backup codes."},
	{ID: goAccount.MetricMFAFailure, Name: "goaccount_mfa_failure_total", Help: "Rejected TOTP or backup codes."},
	{ID: goAccount.MetricRefreshSuccess, Name: "goaccount_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: goAccount.MetricRefreshFailure, Name: "goaccount_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: goAccount.MetricRefreshReuseDetected, Name: "goaccount_refresh_reuse_detected_total", Help: "Replayed refresh values that revoked their session."},
	{ID: goAccount.MetricLogout, Name: "goaccount_logout_total", Help: "Single-session logouts."},
	{ID: goAccount.MetricLogoutAll, Name: "goaccount_logout_all_total", Help: "Logout-all operations."},
	{ID: goAccount.MetricEmailTokenIssued, Name: "goaccount_email_token_issued_total", Help: "Email tokens issued."},
	{ID: goAccount.MetricEmailTokenRedeemed, Name: "goaccount_email_token_redeemed_total", Help: "Email tokens redeemed."},
	{ID: goAccount.MetricEmailTokenRejected, Name: "goaccount_email_token_rejected_total", Help: "Email token redemptions rejected."},
	{ID: goAccount.MetricSubnetRecognized, Name: "goaccount_subnet_recognized_total", Help: "Logins from a subnet with an active session."},
	{ID: goAccount.MetricSubnetUnrecognized, Name: "goaccount_subnet_unrecognized_total", Help: "Logins from a new subnet."},
	{ID: goAccount.MetricSubnetApproved, Name: "goaccount_subnet_approved_total", Help: "Pending sessions approved by email."},
	{ID: goAccount.MetricPasswordReset, Name: "goaccount_password_reset_total", Help: "Completed password resets."},
	{ID: goAccount.MetricAccountMerge, Name: "goaccount_account_merge_total", Help: "Completed account merges."},
	{ID: goAccount.MetricRegister, Name: "goaccount_register_total", Help: "Registered identities."},
	{ID: goAccount.MetricRateLimited, Name: "goaccount_rate_limited_total", Help: "Requests denied by a rate limit."},
	{ID: goAccount.MetricNotificationDropped, Name: "goaccount_notification_dropped_total", Help: "Notifications that could not be enqueued."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAccount.MetricValidateLatency, Name: "goaccount_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for audit events dropped under
// backpressure.
const (
	AuditDroppedName = "goaccount_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
