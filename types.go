package goAccount

import (
	"context"
	"time"

	"github.com/MrEthical07/goAccount/notify"
)

// Identity is the full account record as the repository stores it. It never
// leaves the Engine; callers get an [ExposedIdentity].
type Identity struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	TOTPSecret    []byte
	TOTPEnabled   bool
	EmailVerified bool
	Active        bool
	MergedInto    string
	CreatedAt     time.Time
}

// ExposedIdentity is the projection of an Identity safe to hand out: no
// password hash, no MFA secret.
type ExposedIdentity struct {
	ID            string
	Email         string
	DisplayName   string
	TOTPEnabled   bool
	EmailVerified bool
	Active        bool
	CreatedAt     time.Time
}

// Exposed returns the sanitized projection.
func (i Identity) Exposed() ExposedIdentity {
	return ExposedIdentity{
		ID:            i.ID,
		Email:         i.Email,
		DisplayName:   i.DisplayName,
		TOTPEnabled:   i.TOTPEnabled,
		EmailVerified: i.EmailVerified,
		Active:        i.Active,
		CreatedAt:     i.CreatedAt,
	}
}

// federated reports whether the identity can only log in through an email
// token or an external provider.
func (i Identity) federated() bool {
	return i.PasswordHash == ""
}

// CreateIdentityInput is the input for [IdentityProvider.CreateIdentity].
// Email must already be in safe form.
type CreateIdentityInput struct {
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
}

// IdentityProvider is the relational store the Engine reads and writes
// identities through. Lookups of a missing identity return
// [ErrIdentityNotFound]; CreateIdentity returns [ErrConflict] when the safe
// email is taken.
type IdentityProvider interface {
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	GetIdentityByID(ctx context.Context, id string) (Identity, error)
	CreateIdentity(ctx context.Context, input CreateIdentityInput) (Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	// ConsumeBackupCode deletes the matching code and reports whether one
	// matched. A code can be consumed once.
	ConsumeBackupCode(ctx context.Context, id string, codeHash [32]byte) (bool, error)
	// MergeIdentities moves ownership records and MFA enrollment from source
	// to destination and deactivates source, in one transaction.
	MergeIdentities(ctx context.Context, sourceID, destinationID string) error
}

// Notifier accepts outbound messages without blocking. Its errors are
// logged by the Engine and never returned to callers.
type Notifier interface {
	Notify(ctx context.Context, to string, msg notify.Message) error
}

type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// LoginRequest carries a password login. Code is an optional TOTP or
// backup code; leave it empty to get an mfa-pending token when the identity
// has MFA enrolled.
type LoginRequest struct {
	Email    string
	Password string
	Code     string
}

// FederatedIdentity is the result of an external provider handshake: an
// email the provider has verified and an optional display name.
type FederatedIdentity struct {
	Email       string
	DisplayName string
}

// LoginStatus says which branch of the login state machine a successful
// call ended in.
type LoginStatus uint8

const (
	LoginSucceeded LoginStatus = iota
	LoginMfaRequired
	LoginApprovalPending
)

func (s LoginStatus) String() string {
	switch s {
	case LoginSucceeded:
		return "succeeded"
	case LoginMfaRequired:
		return "mfa_required"
	case LoginApprovalPending:
		return "approval_pending"
	default:
		return "unknown"
	}
}

// LoginResult is returned by every login flow. Tokens is set only when
// Status is LoginSucceeded. MFAToken is set for LoginMfaRequired and is
// exchanged through [Engine.LoginWithTOTP]. SessionID names the pending
// session for LoginApprovalPending.
type LoginResult struct {
	Status    LoginStatus
	Tokens    *TokenPair
	MFAToken  string
	SessionID string
}

// TokenPair is a freshly minted access token and the refresh value of the
// session it belongs to.
type TokenPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	SessionID       string
	IdentityID      string
}

// AuthResult is the verified content of an access token.
type AuthResult struct {
	IdentityID string
	SessionID  string
	Scopes     []string
	ExpiresAt  time.Time
}

// SessionInfo describes one active session for display.
type SessionInfo struct {
	SessionID string
	IP        string
	UserAgent string
	Subnet    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
