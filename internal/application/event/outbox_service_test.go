package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/domain/shared"
	infraevent "github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/tests/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestOutboxService_GetStats(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := infraevent.NewGormOutboxRepository(db)
	svc := NewOutboxService(repo, zap.NewNop())
	ctx := context.Background()

	name := "judy"
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return infraevent.RecordOutboxEvent(ctx, tx, shared.FactCreated, uuid.New(), &name, 1)
		}))
	}

	claimed, err := repo.Claim(ctx, "relay-1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.MarkSent(ctx, claimed[0].ID, "relay-1"))

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &OutboxStatsDTO{Pending: 2, Sent: 1, Total: 3}, stats)

	rec, err := svc.GetRecord(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, string(shared.OutboxStatusSent), rec.Status)
	assert.NotNil(t, rec.DispatchedAt)

	_, err = svc.GetRecord(ctx, uuid.New())
	assert.Equal(t, "RECORD_NOT_FOUND", errorCode(t, err))
}

func TestOutboxService_GetStats_DatabaseError(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	svc := NewOutboxService(infraevent.NewGormOutboxRepository(mockDB.DB), zap.NewNop())

	mockDB.Mock.ExpectQuery(`SELECT status, count\(\*\)`).WillReturnError(assert.AnError)

	_, err := svc.GetStats(context.Background())
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, err))
	mockDB.ExpectationsWereMet(t)
}
