package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goAccount "github.com/MrEthical07/goAccount"
)

const (
	srcID = "01HAAAAAAAAAAAAAAAAAAAAAAA"
	dstID = "01HBBBBBBBBBBBBBBBBBBBBBBB"
)

func expectLock(mock pgxmock.PgxPoolIface, id string, active bool, mergedInto *string, totp bool) {
	mock.ExpectQuery(`SELECT active, merged_into, totp_enabled FROM identities`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"active", "merged_into", "totp_enabled"}).
			AddRow(active, mergedInto, totp))
}

func expectMoves(mock pgxmock.PgxPoolIface) {
	for _, pattern := range []string{
		`UPDATE memberships`,
		`DELETE FROM memberships`,
		`UPDATE access_tokens`,
		`UPDATE backup_codes`,
		`DELETE FROM backup_codes`,
	} {
		mock.ExpectExec(pattern).WithArgs(srcID, dstID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
}

func TestIdentityRepo_MergeIdentities(t *testing.T) {
	none := (*string)(nil)

	t.Run("copies totp when destination has none", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectLock(mock, srcID, true, none, true)
		expectLock(mock, dstID, true, none, false)
		expectMoves(mock)
		mock.ExpectExec(`UPDATE identities AS d`).WithArgs(srcID, dstID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`SET active = FALSE`).WithArgs(srcID, dstID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.MergeIdentities(context.Background(), srcID, dstID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps destination enrollment", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectLock(mock, srcID, true, none, true)
		expectLock(mock, dstID, true, none, true)
		expectMoves(mock)
		mock.ExpectExec(`SET active = FALSE`).WithArgs(srcID, dstID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.MergeIdentities(context.Background(), srcID, dstID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks in id order", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		// dstID merges into srcID here, but srcID still sorts first.
		expectLock(mock, srcID, true, none, false)
		expectLock(mock, dstID, true, none, false)
		mock.ExpectExec(`UPDATE memberships`).WithArgs(dstID, srcID).
			WillReturnError(errors.New("stop here"))
		mock.ExpectRollback()

		require.Error(t, repo.MergeIdentities(context.Background(), dstID, srcID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat of a completed merge is a no-op", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		merged := dstID
		mock.ExpectBegin()
		expectLock(mock, srcID, false, &merged, false)
		expectLock(mock, dstID, true, none, true)
		mock.ExpectRollback()

		require.NoError(t, repo.MergeIdentities(context.Background(), srcID, dstID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("source merged elsewhere conflicts", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		other := "01HCCCCCCCCCCCCCCCCCCCCCCC"
		mock.ExpectBegin()
		expectLock(mock, srcID, false, &other, false)
		expectLock(mock, dstID, true, none, false)
		mock.ExpectRollback()

		err := repo.MergeIdentities(context.Background(), srcID, dstID)
		require.ErrorIs(t, err, goAccount.ErrConflict)
		assertCode(t, err, "IDENTITY_MERGE_INACTIVE")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing destination", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectLock(mock, srcID, true, none, false)
		mock.ExpectQuery(`SELECT active, merged_into, totp_enabled FROM identities`).
			WithArgs(dstID).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		err := repo.MergeIdentities(context.Background(), srcID, dstID)
		require.ErrorIs(t, err, goAccount.ErrIdentityNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed step rolls back", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectLock(mock, srcID, true, none, false)
		expectLock(mock, dstID, true, none, false)
		mock.ExpectExec(`UPDATE memberships`).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		err := repo.MergeIdentities(context.Background(), srcID, dstID)
		require.Error(t, err)
		assertCode(t, err, "IDENTITY_MERGE_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self merge", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		err := repo.MergeIdentities(context.Background(), srcID, srcID)
		require.ErrorIs(t, err, goAccount.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
