package goAccount

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAccount/internal/safeemail"
)

// dummyPassword is hashed once at Build. Unknown emails are verified against
// it so they cost the same argon2 work as a wrong password.
const dummyPassword = "goaccount-timing-equalizer"

// verifyCredentials resolves email to an identity and checks password. Every
// failure that could reveal whether the email is registered comes back as
// ErrInvalidCredentials.
func (e *Engine) verifyCredentials(ctx context.Context, email, password string) (Identity, error) {
	safe, err := safeemail.Normalize(email)
	if err != nil {
		e.burnHash(password)
		return Identity{}, ErrInvalidCredentials
	}

	identity, err := e.identities.GetIdentityByEmail(ctx, safe)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.burnHash(password)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if identity.federated() || !identity.Active {
		e.burnHash(password)
		return Identity{}, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(password, identity.PasswordHash)
	if err != nil || !ok {
		return Identity{}, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, identity, password)
	}

	return identity, nil
}

func (e *Engine) burnHash(password string) {
	_, _ = e.hasher.Verify(password, e.dummyHash)
}

// upgradeHash rehashes with the current parameters when the stored hash was
// made with weaker ones. Failure only costs the upgrade.
func (e *Engine) upgradeHash(ctx context.Context, identity Identity, password string) {
	needs, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.Warn("password hash upgrade failed", "identity_id", identity.ID, "error", err)
		return
	}
	if err := e.identities.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", "identity_id", identity.ID, "error", err)
	}
}
