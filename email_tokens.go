package goAccount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/internal/stores"
)

// EmailTokenPurpose tags a single-use email token with the one action it
// authorizes.
type EmailTokenPurpose string

const (
	PurposeVerifyEmail       EmailTokenPurpose = "verify-email"
	PurposeResetPassword     EmailTokenPurpose = "reset-password"
	PurposePasswordlessLogin EmailTokenPurpose = "passwordless-login"
	PurposeApproveSubnet     EmailTokenPurpose = "approve-subnet"
	PurposeMergeAccounts     EmailTokenPurpose = "merge-accounts"
)

// redeemedToken is what a side effect gets to see of a claimed token.
type redeemedToken struct {
	IdentityID string
	Subject    string
}

func (e *Engine) emailTokenTTL(purpose EmailTokenPurpose) time.Duration {
	cfg := e.config.EmailToken
	switch purpose {
	case PurposeVerifyEmail:
		return cfg.VerifyEmailTTL
	case PurposeResetPassword:
		return cfg.ResetPasswordTTL
	case PurposePasswordlessLogin:
		return cfg.PasswordlessTTL
	case PurposeApproveSubnet:
		return cfg.ApproveSubnetTTL
	case PurposeMergeAccounts:
		return cfg.MergeAccountsTTL
	default:
		return 0
	}
}

// issueEmailToken persists a pending token and returns the opaque value to
// mail out. subject binds the token to a session id or merge destination.
func (e *Engine) issueEmailToken(ctx context.Context, identityID string, purpose EmailTokenPurpose, subject string) (string, error) {
	ttl := e.emailTokenTTL(purpose)
	if ttl <= 0 {
		return "", fmt.Errorf("%w: unknown email token purpose %q", ErrInvalidInput, purpose)
	}

	id, secret, value, err := internal.NewOpaque()
	if err != nil {
		return "", err
	}

	record := &stores.EmailTokenRecord{
		IdentityID: identityID,
		Purpose:    string(purpose),
		Subject:    subject,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  e.now().Add(ttl).Unix(),
	}
	if err := e.emailTokens.Save(ctx, id, record, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricEmailTokenIssued)
	e.emitAudit(ctx, auditEventEmailTokenIssued, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
	return value, nil
}

// redeemEmailToken claims the token, runs effect, and commits on success or
// releases on failure. The token is spent only if effect returned nil.
func (e *Engine) redeemEmailToken(
	ctx context.Context,
	value string,
	purpose EmailTokenPurpose,
	effect func(ctx context.Context, tok redeemedToken) error,
) error {
	id, secret, err := internal.DecodeOpaque(value)
	if err != nil {
		e.rejectEmailToken(ctx, purpose, ErrInvalidOrExpiredToken)
		return ErrInvalidOrExpiredToken
	}

	record, lease, err := e.emailTokens.Claim(ctx, id, internal.HashSecret(secret), string(purpose), e.config.EmailToken.ClaimLease)
	if err != nil {
		mapped := mapEmailTokenErr(err)
		e.rejectEmailToken(ctx, purpose, mapped)
		return mapped
	}

	effectCtx, cancel := context.WithTimeout(ctx, effectBudget(e.config.EmailToken.ClaimLease))
	err = effect(effectCtx, redeemedToken{IdentityID: record.IdentityID, Subject: record.Subject})
	cancel()
	if err != nil {
		if rerr := e.emailTokens.Release(ctx, lease); rerr != nil {
			e.logger.Warn("email token release failed", "purpose", string(purpose), "error", rerr)
		}
		return err
	}

	if err := e.emailTokens.Commit(ctx, lease, e.config.EmailToken.ConsumedRetention); err != nil {
		e.logger.Warn("email token commit failed after side effect", "purpose", string(purpose), "error", err)
	}
	e.metricInc(MetricEmailTokenRedeemed)
	return nil
}

// effectBudget is how long a side effect may run under a claim. Leases are
// stored with second precision and may lapse up to a second early, so the
// effect must give up before that.
func effectBudget(lease time.Duration) time.Duration {
	if lease > 2*time.Second {
		return lease - time.Second
	}
	return lease / 2
}

func (e *Engine) rejectEmailToken(ctx context.Context, purpose EmailTokenPurpose, err error) {
	e.metricInc(MetricEmailTokenRejected)
	e.emitAudit(ctx, auditEventEmailTokenRejected, false, "", "", err, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
}

func mapEmailTokenErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrEmailTokenConsumed),
		errors.Is(err, stores.ErrEmailTokenInFlight):
		return ErrAlreadyConsumedToken
	case errors.Is(err, stores.ErrEmailTokenWrongPurpose):
		return ErrWrongTokenPurpose
	case errors.Is(err, stores.ErrEmailTokenRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	default:
		return ErrInvalidOrExpiredToken
	}
}
