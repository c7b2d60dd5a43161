package event

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/domain/identity"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/persistence"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"github.com/tradejournal/backend/tests/testutil"
	"gorm.io/gorm"
)

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestRecordOutboxEvent_RequiresTransaction(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	name := "alice"

	err := RecordOutboxEvent(context.Background(), db, shared.FactCreated, uuid.New(), &name, 1)

	assert.ErrorIs(t, err, shared.ErrNoTransaction)
	assert.Zero(t, countRows(t, db, &models.OutboxRecordModel{}))
}

func TestRecordOutboxEvent_CommitsWithBusinessChange(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()

	user, err := identity.NewUser("alice")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := persistence.NewGormUserRepository(db).WithTx(tx).Create(ctx, user); err != nil {
			return err
		}
		return RecordOutboxEvent(ctx, tx, shared.FactCreated, user.ID, &user.UserName, user.Version)
	})
	require.NoError(t, err)

	var rows []models.OutboxRecordModel
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, shared.EventTypeUserCreated, rows[0].EventType)
	assert.Equal(t, user.ID, rows[0].AggregateID)
	assert.Equal(t, int64(1), rows[0].AggregateVersion)
	assert.Equal(t, shared.OutboxStatusPending, rows[0].Status)
	assert.JSONEq(t, `{"id":"`+user.ID.String()+`","userName":"alice","version":1}`, string(rows[0].Payload))
}

func TestRecordOutboxEvent_RollsBackWithBusinessChange(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	boom := errors.New("later step failed")

	user, err := identity.NewUser("bob")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := persistence.NewGormUserRepository(db).WithTx(tx).Create(ctx, user); err != nil {
			return err
		}
		if err := RecordOutboxEvent(ctx, tx, shared.FactCreated, user.ID, &user.UserName, user.Version); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Zero(t, countRows(t, db, &models.OutboxRecordModel{}))
	assert.Zero(t, countRows(t, db, &models.UserModel{}))
}

func TestRecordOutboxEvent_InvalidFact(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		return RecordOutboxEvent(context.Background(), tx, shared.FactUpdated, uuid.New(), nil, 2)
	})

	assert.ErrorIs(t, err, shared.ErrInvalidFact)
	assert.Zero(t, countRows(t, db, &models.OutboxRecordModel{}))
}
