package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	goAccount "github.com/MrEthical07/goAccount"
)

// poolIface is the subset of *pgxpool.Pool the repository uses. pgxmock
// pools satisfy it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const identityColumns = `id, email, display_name, password_hash, totp_secret, totp_enabled,
	email_verified, active, merged_into, created_at`

// IdentityRepo implements goAccount.IdentityProvider using PostgreSQL.
type IdentityRepo struct {
	pool poolIface
	now  func() time.Time
}

var _ goAccount.IdentityProvider = (*IdentityRepo)(nil)

// NewIdentityRepo creates an IdentityRepo. Pass a *pgxpool.Pool.
func NewIdentityRepo(pool poolIface) *IdentityRepo {
	return &IdentityRepo{pool: pool, now: time.Now}
}

// GetIdentityByEmail looks up an identity by its safe email form.
func (r *IdentityRepo) GetIdentityByEmail(ctx context.Context, email string) (goAccount.Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return goAccount.Identity{}, oops.Code("IDENTITY_NOT_FOUND").
			With("email", email).
			Wrap(goAccount.ErrIdentityNotFound)
	}
	if err != nil {
		return goAccount.Identity{}, oops.Code("IDENTITY_GET_BY_EMAIL_FAILED").
			With("operation", "get identity by email").
			With("email", email).
			Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepo) GetIdentityByID(ctx context.Context, id string) (goAccount.Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return goAccount.Identity{}, oops.Code("IDENTITY_NOT_FOUND").
			With("id", id).
			Wrap(goAccount.ErrIdentityNotFound)
	}
	if err != nil {
		return goAccount.Identity{}, oops.Code("IDENTITY_GET_BY_ID_FAILED").
			With("operation", "get identity by id").
			With("id", id).
			Wrap(err)
	}
	return identity, nil
}

// CreateIdentity inserts a new active identity with a fresh ULID. A taken
// email is goAccount.ErrConflict.
func (r *IdentityRepo) CreateIdentity(ctx context.Context, in goAccount.CreateIdentityInput) (goAccount.Identity, error) {
	now := r.now().UTC().Truncate(time.Microsecond)
	identity := goAccount.Identity{
		ID:            ulid.Make().String(),
		Email:         in.Email,
		DisplayName:   in.DisplayName,
		PasswordHash:  in.PasswordHash,
		EmailVerified: in.EmailVerified,
		Active:        true,
		CreatedAt:     now,
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (
			id, email, display_name, password_hash, email_verified,
			active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
	`,
		identity.ID,
		identity.Email,
		identity.DisplayName,
		identity.PasswordHash,
		identity.EmailVerified,
		now,
	)
	if isUniqueViolation(err) {
		return goAccount.Identity{}, oops.Code("IDENTITY_CONFLICT").
			With("email", in.Email).
			Wrap(goAccount.ErrConflict)
	}
	if err != nil {
		return goAccount.Identity{}, oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("email", in.Email).
			Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, id, hash)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "update password hash").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(goAccount.ErrIdentityNotFound)
	}
	return nil
}

func (r *IdentityRepo) MarkEmailVerified(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "mark email verified").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(goAccount.ErrIdentityNotFound)
	}
	return nil
}

// ConsumeBackupCode deletes the matching code. The DELETE is the claim, so
// two concurrent logins cannot both spend one code.
func (r *IdentityRepo) ConsumeBackupCode(ctx context.Context, id string, codeHash [32]byte) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM backup_codes WHERE identity_id = $1 AND code_hash = $2
	`, id, codeHash[:])
	if err != nil {
		return false, oops.Code("BACKUP_CODE_CONSUME_FAILED").
			With("identity_id", id).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// ReplaceBackupCodes swaps the identity's backup codes for the given
// hashes in one transaction.
func (r *IdentityRepo) ReplaceBackupCodes(ctx context.Context, id string, codeHashes [][32]byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE identity_id = $1`, id); err != nil {
		return oops.Code("BACKUP_CODE_REPLACE_FAILED").With("identity_id", id).Wrap(err)
	}
	for _, h := range codeHashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO backup_codes (identity_id, code_hash) VALUES ($1, $2)
		`, id, h[:]); err != nil {
			return oops.Code("BACKUP_CODE_REPLACE_FAILED").With("identity_id", id).Wrap(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// EnableTOTP stores the secret and turns MFA on for the identity.
func (r *IdentityRepo) EnableTOTP(ctx context.Context, id string, secret []byte) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities SET totp_secret = $2, totp_enabled = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id, secret)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "enable totp").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(goAccount.ErrIdentityNotFound)
	}
	return nil
}

func scanIdentity(row pgx.Row) (goAccount.Identity, error) {
	var (
		identity   goAccount.Identity
		mergedInto *string
	)
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.DisplayName,
		&identity.PasswordHash,
		&identity.TOTPSecret,
		&identity.TOTPEnabled,
		&identity.EmailVerified,
		&identity.Active,
		&mergedInto,
		&identity.CreatedAt,
	)
	if err != nil {
		return goAccount.Identity{}, err
	}
	if mergedInto != nil {
		identity.MergedInto = *mergedInto
	}
	return identity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// normalizeURL rewrites postgres:// and postgresql:// to the pgx5:// scheme
// golang-migrate registers its pgx/v5 driver under.
func normalizeURL(databaseURL string) string {
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		return "pgx5://" + rest
	}
	if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		return "pgx5://" + rest
	}
	return databaseURL
}
