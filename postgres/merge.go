package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	goAccount "github.com/MrEthical07/goAccount"
)

type mergeStep struct {
	name string
	sql  string
}

type mergeParty struct {
	active      bool
	mergedInto  *string
	totpEnabled bool
}

// MergeIdentities folds source into destination in one transaction:
// memberships and access tokens move over, MFA enrollment and backup codes
// are copied when the destination has none, and source is deactivated with
// merged_into set. Repeating a completed merge is a no-op.
func (r *IdentityRepo) MergeIdentities(ctx context.Context, sourceID, destinationID string) error {
	if sourceID == destinationID {
		return oops.Code("IDENTITY_MERGE_SELF").With("id", sourceID).Wrap(goAccount.ErrConflict)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Lock in a fixed order so two crossing merges cannot deadlock.
	first, second := sourceID, destinationID
	if second < first {
		first, second = second, first
	}
	parties := make(map[string]mergeParty, 2)
	for _, id := range []string{first, second} {
		p, err := lockMergeParty(ctx, tx, id)
		if err != nil {
			return err
		}
		parties[id] = p
	}
	source, destination := parties[sourceID], parties[destinationID]

	if source.mergedInto != nil && *source.mergedInto == destinationID {
		return nil
	}
	if !source.active || !destination.active {
		return oops.Code("IDENTITY_MERGE_INACTIVE").
			With("source_id", sourceID).
			With("destination_id", destinationID).
			Wrap(goAccount.ErrConflict)
	}

	steps := []mergeStep{
		{"move memberships", `
			UPDATE memberships SET identity_id = $2
			WHERE identity_id = $1
			  AND group_id NOT IN (SELECT group_id FROM memberships WHERE identity_id = $2)`},
		{"drop duplicate memberships", `DELETE FROM memberships WHERE identity_id = $1`},
		{"move access tokens", `UPDATE access_tokens SET identity_id = $2 WHERE identity_id = $1`},
		{"move backup codes", `
			UPDATE backup_codes SET identity_id = $2
			WHERE identity_id = $1
			  AND NOT EXISTS (SELECT 1 FROM backup_codes WHERE identity_id = $2)`},
		{"drop leftover backup codes", `DELETE FROM backup_codes WHERE identity_id = $1`},
	}
	if source.totpEnabled && !destination.totpEnabled {
		steps = append(steps, mergeStep{"copy totp enrollment", `
			UPDATE identities AS d SET totp_secret = s.totp_secret, totp_enabled = TRUE, updated_at = NOW()
			FROM identities AS s
			WHERE s.id = $1 AND d.id = $2`})
	}
	steps = append(steps, mergeStep{"deactivate source", `
		UPDATE identities
		SET active = FALSE, merged_into = $2, totp_secret = NULL, totp_enabled = FALSE, updated_at = NOW()
		WHERE id = $1`})

	for _, step := range steps {
		if _, err := tx.Exec(ctx, step.sql, sourceID, destinationID); err != nil {
			return oops.Code("IDENTITY_MERGE_FAILED").
				With("operation", step.name).
				With("source_id", sourceID).
				With("destination_id", destinationID).
				Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func lockMergeParty(ctx context.Context, tx pgx.Tx, id string) (mergeParty, error) {
	var p mergeParty
	err := tx.QueryRow(ctx, `
		SELECT active, merged_into, totp_enabled FROM identities WHERE id = $1 FOR UPDATE
	`, id).Scan(&p.active, &p.mergedInto, &p.totpEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return mergeParty{}, oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(goAccount.ErrIdentityNotFound)
	}
	if err != nil {
		return mergeParty{}, oops.Code("IDENTITY_MERGE_FAILED").
			With("operation", "lock identity").
			With("id", id).
			Wrap(err)
	}
	return p, nil
}
