package goAccount

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/internal/rate"
	"github.com/MrEthical07/goAccount/internal/safeemail"
	"github.com/MrEthical07/goAccount/notify"
)

const purposeMFAPending = "mfa-pending"

// rateKeyEmail is the form of email used as a rate-limit key. Unparseable
// input still gets a stable key so it cannot dodge the budget.
func rateKeyEmail(email string) string {
	if safe, err := safeemail.Normalize(email); err == nil {
		return safe
	}
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginWithResult runs a password login. Depending on the identity and the
// request's network it ends with tokens, an mfa-pending token or a pending
// session waiting for email approval.
func (e *Engine) LoginWithResult(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	key := rateKeyEmail(req.Email)

	if err := e.rate.CheckLogin(ctx, key, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "login", "")
		}
		return nil, e.mapRateErr(err)
	}

	identity, err := e.verifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if ierr := e.rate.IncrementLogin(ctx, key, ip); ierr != nil {
				e.logger.Warn("login attempt counter update failed", "error", ierr)
			}
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"method": "password"}
		})
		return nil, err
	}

	if err := e.rate.ResetLogin(ctx, key); err != nil {
		e.logger.Warn("login attempt counter reset failed", "identity_id", identity.ID, "error", err)
	}

	if e.config.Policy.RequireVerifiedEmail && !identity.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, "", ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	if identity.TOTPEnabled {
		if strings.TrimSpace(req.Code) == "" {
			token, err := e.jwt.CreatePurpose(purposeMFAPending, identity.ID, e.config.TOTP.MFATokenTTL)
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricLoginMFARequired)
			e.emitAudit(ctx, auditEventMFARequired, true, identity.ID, "", nil, nil)
			return &LoginResult{Status: LoginMfaRequired, MFAToken: token}, nil
		}
		if err := e.verifyMFA(ctx, identity, req.Code); err != nil {
			return nil, err
		}
	}

	return e.completeLogin(ctx, identity, "password")
}

// Login is LoginWithResult for callers that only handle the token case.
// The MFA and approval branches come back as ErrMfaRequired and
// ErrApprovalPending.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	result, err := e.LoginWithResult(ctx, req)
	if err != nil {
		return nil, err
	}
	return resultTokens(result)
}

func resultTokens(result *LoginResult) (*TokenPair, error) {
	if result == nil {
		return nil, ErrEngineNotReady
	}
	switch result.Status {
	case LoginMfaRequired:
		return nil, ErrMfaRequired
	case LoginApprovalPending:
		return nil, ErrApprovalPending
	}
	return result.Tokens, nil
}

// LoginWithTOTP finishes a login that stopped at LoginMfaRequired. The
// mfa-pending token may be presented again until it expires; wrong codes
// are bounded by the per-identity MFA budget.
func (e *Engine) LoginWithTOTP(ctx context.Context, mfaToken, code string) (*LoginResult, error) {
	claims, err := e.jwt.ParsePurpose(mfaToken, purposeMFAPending)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrExpiredToken, err)
	}

	identity, err := e.getIdentity(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if !identity.Active || !identity.TOTPEnabled {
		return nil, ErrInvalidOrExpiredToken
	}

	if err := e.verifyMFA(ctx, identity, code); err != nil {
		return nil, err
	}
	return e.completeLogin(ctx, identity, "totp")
}

// RequestPasswordlessLogin mails a one-time login link. Unknown addresses
// succeed silently.
func (e *Engine) RequestPasswordlessLogin(ctx context.Context, email string) error {
	safe, err := safeemail.Normalize(email)
	if err != nil {
		return nil
	}
	if err := e.gateEmailRequest(ctx, "passwordless", safe); err != nil {
		return err
	}

	identity, err := e.lookupForRequest(ctx, safe)
	if err != nil || identity == nil {
		return err
	}

	token, err := e.issueEmailToken(ctx, identity.ID, PurposePasswordlessLogin, "")
	if err != nil {
		return err
	}
	e.notify(ctx, identity.Email, notify.PasswordlessLogin{
		Name:      identity.DisplayName,
		Token:     token,
		ExpiresIn: e.config.EmailToken.PasswordlessTTL,
	})
	return nil
}

// LoginWithToken redeems a passwordless-login token and continues through
// the subnet guard. The token is spent only if the login completes.
func (e *Engine) LoginWithToken(ctx context.Context, token string) (*LoginResult, error) {
	var result *LoginResult
	err := e.redeemEmailToken(ctx, token, PurposePasswordlessLogin, func(ctx context.Context, tok redeemedToken) error {
		identity, err := e.getIdentity(ctx, tok.IdentityID)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}
		if !identity.Active {
			return ErrInvalidOrExpiredToken
		}
		result, err = e.completeLogin(ctx, identity, "passwordless")
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LoginWithFederatedIdentity logs in an identity whose email an external
// provider has verified, creating a password-less identity on first use.
func (e *Engine) LoginWithFederatedIdentity(ctx context.Context, fed FederatedIdentity) (*LoginResult, error) {
	safe, err := safeemail.Normalize(fed.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	identity, err := e.findOrCreateFederated(ctx, safe, fed.DisplayName)
	if err != nil {
		return nil, err
	}
	if !identity.Active {
		return nil, ErrInvalidCredentials
	}

	if !identity.EmailVerified {
		if err := e.identities.MarkEmailVerified(ctx, identity.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		identity.EmailVerified = true
	}

	return e.completeLogin(ctx, identity, "federated")
}

func (e *Engine) findOrCreateFederated(ctx context.Context, safe, displayName string) (Identity, error) {
	identity, err := e.identities.GetIdentityByEmail(ctx, safe)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return Identity{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if displayName = strings.TrimSpace(displayName); displayName == "" {
		displayName, _, _ = strings.Cut(safe, "@")
	}
	created, err := e.identities.CreateIdentity(ctx, CreateIdentityInput{
		Email:         safe,
		DisplayName:   displayName,
		EmailVerified: true,
	})
	if err == nil {
		e.metricInc(MetricRegister)
		e.emitAudit(ctx, auditEventRegister, true, created.ID, "", nil, func() map[string]string {
			return map[string]string{"method": "federated"}
		})
		return created, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Identity{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// Lost a concurrent first login for the same address.
	identity, err = e.identities.GetIdentityByEmail(ctx, safe)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return identity, nil
}

// ApproveSubnet redeems an approve-subnet token, activates the pending
// session it is bound to and returns its tokens. The refresh value carries
// a secret generated now; the one made at pending creation was never
// handed out.
func (e *Engine) ApproveSubnet(ctx context.Context, token string) (*TokenPair, error) {
	var pair *TokenPair
	err := e.redeemEmailToken(ctx, token, PurposeApproveSubnet, func(ctx context.Context, tok redeemedToken) error {
		sess, err := e.sessions.Get(ctx, tok.Subject)
		if err != nil {
			return e.mapSessionErr(err)
		}
		if sess.IdentityID != tok.IdentityID {
			return ErrInvalidOrExpiredToken
		}

		access, exp, err := e.mintAccess(sess.IdentityID, sess.SessionID)
		if err != nil {
			return err
		}

		secret, err := internal.NewSecret()
		if err != nil {
			return err
		}
		value, err := internal.EncodeOpaque(sess.SessionID, secret)
		if err != nil {
			return err
		}
		if err := e.sessions.MarkApproved(ctx, sess.SessionID, internal.HashSecret(secret)); err != nil {
			return e.mapSessionErr(err)
		}

		pair = &TokenPair{
			AccessToken:     access,
			AccessExpiresAt: exp,
			RefreshToken:    value,
			SessionID:       sess.SessionID,
			IdentityID:      sess.IdentityID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSubnetApproved)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventSubnetApproved, true, pair.IdentityID, pair.SessionID, nil, nil)
	return pair, nil
}
