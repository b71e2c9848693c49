package goAccount

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegister             = "register"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventMFARequired          = "mfa_required"
	auditEventMFAFailure           = "mfa_failure"
	auditEventApprovalPending      = "approval_pending"
	auditEventSubnetApproved       = "subnet_approved"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventEmailTokenIssued     = "email_token_issued"
	auditEventEmailTokenRejected   = "email_token_rejected"
	auditEventEmailVerified        = "email_verified"
	auditEventPasswordReset        = "password_reset"
	auditEventAccountMerged        = "account_merged"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
)

// AuditErrorCode is the stable, low-cardinality error label written to
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrApprovalPending    AuditErrorCode = "approval_pending"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenConsumed      AuditErrorCode = "token_consumed"
	auditErrWrongPurpose       AuditErrorCode = "wrong_purpose"
	auditErrSessionRevoked     AuditErrorCode = "session_revoked"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrNotVerified        AuditErrorCode = "email_not_verified"
	auditErrInactive           AuditErrorCode = "identity_inactive"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, identityID string) {
	e.metricInc(MetricRateLimited)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, identityID, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrMfaRequired):
		return auditErrMFARequired
	case errors.Is(err, ErrInvalidMfaCode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrApprovalPending):
		return auditErrApprovalPending
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrAlreadyConsumedToken):
		return auditErrTokenConsumed
	case errors.Is(err, ErrWrongTokenPurpose):
		return auditErrWrongPurpose
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrNotVerified
	case errors.Is(err, ErrIdentityInactive):
		return auditErrInactive
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrNotificationUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
