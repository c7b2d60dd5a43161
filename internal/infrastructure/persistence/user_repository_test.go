package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/domain/identity"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/tests/testutil"
)

func TestGormUserRepository_CRUD(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormUserRepository(db)
	ctx := context.Background()

	user, err := identity.NewUser("alice")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, user))

	t.Run("finds created user", func(t *testing.T) {
		got, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserName)
		assert.Equal(t, 1, got.Version)
	})

	t.Run("name lookup ignores case", func(t *testing.T) {
		exists, err := repo.ExistsByUserName(ctx, "ALICE")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		other, err := identity.NewUser("alice")
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, other), shared.ErrAlreadyExists)
	})

	t.Run("update bumps version", func(t *testing.T) {
		loaded, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		changed, err := loaded.Rename("alice.w")
		require.NoError(t, err)
		require.True(t, changed)
		require.NoError(t, repo.Update(ctx, loaded))

		got, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice.w", got.UserName)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("stale update is a conflict", func(t *testing.T) {
		_, err := user.Rename("alice.stale")
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Update(ctx, user), shared.ErrConcurrencyConflict)
	})

	t.Run("stale delete is a conflict", func(t *testing.T) {
		stale := *user
		stale.Version = 1
		stale.MarkDeleted()
		assert.ErrorIs(t, repo.Delete(ctx, &stale), shared.ErrConcurrencyConflict)
	})

	t.Run("delete then find is not found", func(t *testing.T) {
		loaded, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		loaded.MarkDeleted()
		require.NoError(t, repo.Delete(ctx, loaded))
		_, err = repo.FindByID(ctx, user.ID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, loaded), shared.ErrNotFound)
	})
}

func TestGormUserRepository_FindByID_SQL(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := NewGormUserRepository(mockDB.DB)
	id := uuid.New()

	mockDB.Mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1 ORDER BY "users"."id" LIMIT $2`)).
		WithArgs(id, 1).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.FindByID(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	mockDB.ExpectationsWereMet(t)
}

func TestGormUserRepository_UpdateMissing(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := NewGormUserRepository(mockDB.DB)

	user, err := identity.NewUser("bob")
	require.NoError(t, err)
	_, err = user.Rename("bobby")
	require.NoError(t, err)

	mockDB.Mock.ExpectExec(`UPDATE "users" SET .* WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE id = \$1`).
		WithArgs(user.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	assert.ErrorIs(t, repo.Update(context.Background(), user), shared.ErrNotFound)
	mockDB.ExpectationsWereMet(t)
}
