package goAccount

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAccount/internal/safeemail"
	"github.com/MrEthical07/goAccount/notify"
	"github.com/MrEthical07/goAccount/password"
)

func (e *Engine) hashPassword(pw string) (string, error) {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return "", err
	}
	return hash, nil
}

// Register creates an unverified identity and mails a verify-email link.
// No session is created; unless Policy.RequireVerifiedEmail is set the new
// identity can log in straight away.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (ExposedIdentity, error) {
	if !e.config.Policy.AllowRegistration {
		return ExposedIdentity{}, ErrRegistrationDisabled
	}

	safe, err := safeemail.Normalize(req.Email)
	if err != nil {
		return ExposedIdentity{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return ExposedIdentity{}, err
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(safe, "@")
	}

	identity, err := e.identities.CreateIdentity(ctx, CreateIdentityInput{
		Email:        safe,
		DisplayName:  name,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.emitAudit(ctx, auditEventRegister, false, "", "", ErrConflict, nil)
			return ExposedIdentity{}, ErrConflict
		}
		return ExposedIdentity{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricRegister)
	e.emitAudit(ctx, auditEventRegister, true, identity.ID, "", nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})

	// The identity exists either way; a lost link can be re-sent.
	if err := e.sendVerification(ctx, identity); err != nil {
		e.logger.Warn("verification email not issued", "identity_id", identity.ID, "error", err)
	}

	return identity.Exposed(), nil
}

func (e *Engine) sendVerification(ctx context.Context, identity Identity) error {
	token, err := e.issueEmailToken(ctx, identity.ID, PurposeVerifyEmail, "")
	if err != nil {
		return err
	}
	e.notify(ctx, identity.Email, notify.EmailVerification{
		Name:      identity.DisplayName,
		Token:     token,
		ExpiresIn: e.config.EmailToken.VerifyEmailTTL,
	})
	return nil
}

// ResendEmailVerification mails a fresh verify-email link. Unknown and
// already verified addresses succeed silently.
func (e *Engine) ResendEmailVerification(ctx context.Context, email string) error {
	safe, err := safeemail.Normalize(email)
	if err != nil {
		return nil
	}
	if err := e.gateEmailRequest(ctx, "verify-email", safe); err != nil {
		return err
	}

	identity, err := e.lookupForRequest(ctx, safe)
	if err != nil || identity == nil {
		return err
	}
	if identity.EmailVerified {
		return nil
	}
	return e.sendVerification(ctx, *identity)
}

// VerifyEmail redeems a verify-email token, marks the address verified and
// logs the identity in. Possession of the mailbox stands in for subnet
// approval, so the session is active immediately.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*TokenPair, error) {
	var pair *TokenPair
	err := e.redeemEmailToken(ctx, token, PurposeVerifyEmail, func(ctx context.Context, tok redeemedToken) error {
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
		if !identity.EmailVerified {
			if err := e.identities.MarkEmailVerified(ctx, identity.ID); err != nil {
				return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
		}
		pair, err = e.startSession(ctx, identity.ID, e.subnetFingerprint(clientIPFromContext(ctx)), true)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventEmailVerified, true, pair.IdentityID, pair.SessionID, nil, nil)
	return pair, nil
}

// ForgotPassword mails a reset-password link. Unknown addresses succeed
// silently.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	safe, err := safeemail.Normalize(email)
	if err != nil {
		return nil
	}
	if err := e.gateEmailRequest(ctx, "reset-password", safe); err != nil {
		return err
	}

	identity, err := e.lookupForRequest(ctx, safe)
	if err != nil || identity == nil {
		return err
	}

	token, err := e.issueEmailToken(ctx, identity.ID, PurposeResetPassword, "")
	if err != nil {
		return err
	}
	e.notify(ctx, identity.Email, notify.PasswordReset{
		Name:      identity.DisplayName,
		Token:     token,
		ExpiresIn: e.config.EmailToken.ResetPasswordTTL,
	})
	return nil
}

// ResetPassword redeems a reset-password token, starts a single new
// session, revokes every other session of the identity and stores the new
// password. A password that fails policy leaves the token unspent.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) (*TokenPair, error) {
	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	var (
		pair     *TokenPair
		identity Identity
		revoked  int
	)
	err = e.redeemEmailToken(ctx, token, PurposeResetPassword, func(ctx context.Context, tok redeemedToken) error {
		var err error
		identity, err = e.getIdentity(ctx, tok.IdentityID)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}
		if !identity.Active {
			return ErrInvalidOrExpiredToken
		}

		// Old sessions are revoked before the hash is written. Any failure
		// after this point drops the new session again.
		pair, err = e.startSession(ctx, identity.ID, e.subnetFingerprint(clientIPFromContext(ctx)), true)
		if err != nil {
			return err
		}
		revoked, err = e.sessions.RevokeOthers(ctx, identity.ID, pair.SessionID)
		if err != nil {
			e.dropSession(ctx, pair.SessionID)
			return e.mapSessionErr(err)
		}
		if err := e.identities.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
			e.dropSession(ctx, pair.SessionID)
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordReset)
	e.emitAudit(ctx, auditEventPasswordReset, true, identity.ID, pair.SessionID, nil, func() map[string]string {
		return map[string]string{"revoked_sessions": fmt.Sprint(revoked)}
	})
	e.notify(ctx, identity.Email, notify.PasswordChanged{Name: identity.DisplayName})
	return pair, nil
}

// RequestAccountMerge mails sourceEmail a link that, once followed, folds
// that account into destinationID. An unknown source address succeeds
// silently.
func (e *Engine) RequestAccountMerge(ctx context.Context, destinationID, sourceEmail string) error {
	destination, err := e.getIdentity(ctx, destinationID)
	if err != nil {
		return err
	}
	if !destination.Active {
		return ErrIdentityInactive
	}

	safe, err := safeemail.Normalize(sourceEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if safe == destination.Email {
		return fmt.Errorf("%w: cannot merge an identity into itself", ErrInvalidInput)
	}
	if err := e.gateEmailRequest(ctx, "merge-accounts", safe); err != nil {
		return err
	}

	source, err := e.lookupForRequest(ctx, safe)
	if err != nil || source == nil {
		return err
	}

	token, err := e.issueEmailToken(ctx, source.ID, PurposeMergeAccounts, destination.ID)
	if err != nil {
		return err
	}
	e.notify(ctx, source.Email, notify.MergeRequest{
		SourceEmail:     source.Email,
		DestinationName: destination.DisplayName,
		Token:           token,
		ExpiresIn:       e.config.EmailToken.MergeAccountsTTL,
	})
	return nil
}

// MergeAccounts redeems a merge-accounts token: the repository moves
// ownership and deactivates the source, then the source identity's active
// sessions move to the destination. Refresh values issued to the source
// keep working and now authenticate as the destination. Its pending
// sessions are revoked.
func (e *Engine) MergeAccounts(ctx context.Context, token string) error {
	var (
		source      Identity
		destination Identity
		moved       int
	)
	err := e.redeemEmailToken(ctx, token, PurposeMergeAccounts, func(ctx context.Context, tok redeemedToken) error {
		var err error
		source, err = e.getIdentity(ctx, tok.IdentityID)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}
		destination, err = e.getIdentity(ctx, tok.Subject)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}
		if !destination.Active {
			return ErrIdentityInactive
		}
		if !source.Active && source.MergedInto != destination.ID {
			return ErrInvalidOrExpiredToken
		}

		// MergeIdentities is idempotent for the same destination; a failed
		// Reassign is retried by redeeming the token again.
		if err := e.identities.MergeIdentities(ctx, source.ID, destination.ID); err != nil {
			if errors.Is(err, ErrIdentityNotFound) || errors.Is(err, ErrConflict) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		moved, err = e.sessions.Reassign(ctx, source.ID, destination.ID)
		if err != nil {
			return e.mapSessionErr(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricAccountMerge)
	e.emitAudit(ctx, auditEventAccountMerged, true, destination.ID, "", nil, func() map[string]string {
		return map[string]string{
			"source_id":      source.ID,
			"moved_sessions": fmt.Sprint(moved),
		}
	})
	e.notify(ctx, source.Email, notify.AccountDeactivated{
		Name:       source.DisplayName,
		MergedInto: destination.Email,
	})
	return nil
}
