package goAccount

import "errors"

// Flow errors. Callers branch on these with errors.Is; none of them say
// whether an email address is registered.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrMfaRequired           = errors.New("mfa required")
	ErrInvalidMfaCode        = errors.New("invalid mfa code")
	ErrApprovalPending       = errors.New("login approval pending")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAlreadyConsumedToken  = errors.New("token already consumed")
	ErrWrongTokenPurpose     = errors.New("wrong token purpose")
	ErrSessionRevoked        = errors.New("session revoked")
	ErrIdentityNotFound      = errors.New("identity not found")
	ErrConflict              = errors.New("conflict")
)

var (
	ErrRateLimited             = errors.New("rate limited")
	ErrPasswordPolicy          = errors.New("password policy violation")
	ErrInvalidInput            = errors.New("invalid input")
	ErrEngineNotReady          = errors.New("engine not initialized")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrNotificationUnavailable = errors.New("notification unavailable")
	ErrEmailNotVerified        = errors.New("email not verified")
	ErrRegistrationDisabled    = errors.New("registration disabled")
	ErrIdentityInactive        = errors.New("identity deactivated")
)
