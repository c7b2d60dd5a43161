package event

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/tests/testutil"
	"gorm.io/gorm"
)

var outboxBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestRecord builds a record for userID whose created_at is offset steps
// after a fixed base so claim order is deterministic. The aggregate version
// grows with offset.
func newTestRecord(t *testing.T, kind shared.FactKind, userID uuid.UUID, name string, offset int) *shared.OutboxRecord {
	t.Helper()
	var userName *string
	if kind != shared.FactDeleted {
		userName = &name
	}
	version := int64(offset) + 1
	env, err := shared.NewUserEnvelope(kind, userID, userName, version, outboxBase.Add(time.Duration(offset)*time.Second))
	require.NoError(t, err)

	rec := shared.NewOutboxRecord(env, userID, version)
	rec.CreatedAt = outboxBase.Add(time.Duration(offset) * time.Millisecond)
	rec.UpdatedAt = rec.CreatedAt
	return rec
}

func saveRecords(t *testing.T, db *gorm.DB, records ...*shared.OutboxRecord) {
	t.Helper()
	require.NoError(t, NewGormOutboxRepository(db).Save(context.Background(), records...))
}

func claimedIDs(records []*shared.OutboxRecord) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func TestGormOutboxRepository_Save_Empty(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := NewGormOutboxRepository(mockDB.DB)

	require.NoError(t, repo.Save(context.Background()))
	mockDB.ExpectationsWereMet(t)
}

func TestGormOutboxRepository_ClaimSQL(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := NewGormOutboxRepository(mockDB.DB)
	ctx := context.Background()

	id := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC()

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_id", "event_type", "aggregate_id", "aggregate_version", "payload", "occurred_at",
			"status", "attempt_count", "created_at", "updated_at",
		}).AddRow(id.String(), uuid.NewString(), shared.EventTypeUserCreated, userID.String(), int64(1), []byte(`{}`), now,
			string(shared.OutboxStatusPending), int64(0), now, now))
	mockDB.Mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox_events" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()

	claimed, err := repo.Claim(ctx, "relay-a", 10, time.Minute)

	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, int64(1), claimed[0].AggregateVersion)
	assert.Equal(t, shared.OutboxStatusProcessing, claimed[0].Status)
	assert.Equal(t, "relay-a", claimed[0].LeaseOwner)
	require.NotNil(t, claimed[0].LeaseExpiresAt)
	mockDB.ExpectationsWereMet(t)
}

func TestGormOutboxRepository_MarkSent_LeaseLost(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := NewGormOutboxRepository(mockDB.DB)

	mockDB.Mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox_events" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSent(context.Background(), uuid.New(), "relay-a")

	assert.ErrorIs(t, err, shared.ErrLeaseLost)
	mockDB.ExpectationsWereMet(t)
}

func TestGormOutboxRepository_ClaimHeadOfLine(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	a1 := newTestRecord(t, shared.FactCreated, alice, "alice", 1)
	a2 := newTestRecord(t, shared.FactUpdated, alice, "alice2", 2)
	b1 := newTestRecord(t, shared.FactCreated, bob, "bob", 3)
	saveRecords(t, db, a1, a2, b1)

	claimed, err := repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a1.ID, b1.ID}, claimedIDs(claimed))

	// Nothing else is claimable while the heads are leased.
	again, err := repo.Claim(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.MarkSent(ctx, a1.ID, "relay-a"))

	next, err := repo.Claim(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a2.ID}, claimedIDs(next))
}

func TestGormOutboxRepository_ClaimFollowsVersionNotClock(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	// The rename was stamped by an instance whose clock runs behind, so it
	// carries an earlier created_at than the create it follows.
	alice := uuid.New()
	created := newTestRecord(t, shared.FactCreated, alice, "alice", 5)
	renamed := newTestRecord(t, shared.FactUpdated, alice, "alice2", 1)
	renamed.AggregateVersion = created.AggregateVersion + 1
	saveRecords(t, db, created, renamed)

	claimed, err := repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{created.ID}, claimedIDs(claimed))
	require.NoError(t, repo.MarkSent(ctx, created.ID, "relay-a"))

	claimed, err = repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{renamed.ID}, claimedIDs(claimed))
}

func TestGormOutboxRepository_DuplicateVersionRejected(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	userID := uuid.New()

	first := newTestRecord(t, shared.FactCreated, userID, "alice", 1)
	second := newTestRecord(t, shared.FactUpdated, userID, "alice2", 1)

	saveRecords(t, db, first)
	assert.Error(t, NewGormOutboxRepository(db).Save(context.Background(), second))
}

func TestGormOutboxRepository_FailedRecordBlocksAggregate(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	a1 := newTestRecord(t, shared.FactCreated, alice, "alice", 1)
	a2 := newTestRecord(t, shared.FactDeleted, alice, "", 2)
	saveRecords(t, db, a1, a2)

	claimed, err := repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a1.ID}, claimedIDs(claimed))

	require.NoError(t, repo.MarkFailed(ctx, a1.ID, "relay-a", "broker down", time.Now().Add(time.Hour)))

	blocked, err := repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, blocked, "a failed head holds back the rest of its aggregate")

	stored, err := repo.FindByID(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, "broker down", stored.LastError)
	assert.Empty(t, stored.LeaseOwner)
}

func TestGormOutboxRepository_FailedRecordRetriedWhenDue(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	rec := newTestRecord(t, shared.FactCreated, uuid.New(), "carol", 1)
	saveRecords(t, db, rec)

	_, err := repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, rec.ID, "relay-a", "timeout", time.Now().Add(-time.Second)))

	retried, err := repo.Claim(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].AttemptCount)
}

func TestGormOutboxRepository_ExpiredLeaseIsReclaimed(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	rec := newTestRecord(t, shared.FactCreated, uuid.New(), "dave", 1)
	saveRecords(t, db, rec)

	first, err := repo.Claim(ctx, "relay-a", 10, -time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := repo.Claim(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.ErrorIs(t, repo.MarkSent(ctx, rec.ID, "relay-a"), shared.ErrLeaseLost)
	require.NoError(t, repo.MarkSent(ctx, rec.ID, "relay-b"))
	assert.ErrorIs(t, repo.MarkSent(ctx, rec.ID, "relay-b"), shared.ErrLeaseLost, "a sent record is never updated again")

	stored, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDispatched())
	assert.NotNil(t, stored.DispatchedAt)
}

func TestGormOutboxRepository_CleanupAndCounts(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	sent := newTestRecord(t, shared.FactCreated, uuid.New(), "erin", 1)
	pending := newTestRecord(t, shared.FactCreated, uuid.New(), "frank", 2)
	saveRecords(t, db, sent, pending)

	claimed, err := repo.Claim(ctx, "relay-a", 1, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{sent.ID}, claimedIDs(claimed))
	require.NoError(t, repo.MarkSent(ctx, sent.ID, "relay-a"))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[shared.OutboxStatusSent])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusPending])

	deleted, err := repo.DeleteDispatchedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = repo.DeleteDispatchedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, sent.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = repo.FindByID(ctx, pending.ID)
	assert.NoError(t, err)
}
