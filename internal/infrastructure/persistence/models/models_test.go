package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/domain/identity"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
)

func TestTableNames(t *testing.T) {
	assert.Equal(t, "users", UserModel{}.TableName())
	assert.Equal(t, "outbox_events", OutboxRecordModel{}.TableName())
	assert.Equal(t, "inbox_messages", InboxMessageModel{}.TableName())
	assert.Equal(t, "inbox_dead_letters", DeadLetterModel{}.TableName())
	assert.Equal(t, "user_projections", UserProjectionModel{}.TableName())
	assert.Equal(t, "user_tombstones", UserTombstoneModel{}.TableName())
	assert.Equal(t, "plan_techniques", PlanTechniqueModel{}.TableName())
	assert.Equal(t, "pending_image_deletions", PendingImageDeletionModel{}.TableName())
}

func TestUserModel_RoundTrip(t *testing.T) {
	user, err := identity.NewUser("alice")
	require.NoError(t, err)
	_, err = user.Rename("alice.b")
	require.NoError(t, err)

	got := UserModelFromDomain(user).ToDomain()

	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "alice.b", got.UserName)
	assert.Equal(t, 2, got.Version)
}

func TestOutboxRecordModel_RoundTrip(t *testing.T) {
	userID := uuid.New()
	name := "alice"
	env, err := shared.NewUserEnvelope(shared.FactCreated, userID, &name, 1, time.Now())
	require.NoError(t, err)

	record := shared.NewOutboxRecord(env, userID, 1)
	next := time.Now().Add(time.Minute)
	record.NextAttemptAt = &next
	record.AttemptCount = 2

	got := OutboxRecordModelFromDomain(record).ToDomain()

	assert.Equal(t, record.EventID, got.EventID)
	assert.Equal(t, shared.OutboxStatusPending, got.Status)
	assert.Equal(t, userID, got.AggregateID)
	assert.Equal(t, int64(1), got.AggregateVersion)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, &next, got.NextAttemptAt)
	assert.JSONEq(t, string(env.Payload()), string(got.Envelope().Payload()))
}

func TestTradeModel_RoundTrip(t *testing.T) {
	trade, err := journal.NewTrade(uuid.New(), nil, "aapl", journal.TradeSideShort,
		decimal.NewFromInt(10), decimal.RequireFromString("182.5"))
	require.NoError(t, err)
	require.NoError(t, trade.Close(decimal.RequireFromString("180")))

	got := TradeModelFromDomain(trade).ToDomain()

	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, journal.TradeSideShort, got.Side)
	require.NotNil(t, got.ExitPrice)
	pl, closed := got.ProfitLoss()
	assert.True(t, closed)
	assert.True(t, decimal.NewFromInt(25).Equal(pl))
}

func TestDeadLetterModel_RoundTrip(t *testing.T) {
	msgID := uuid.New()
	letter := shared.NewDeadLetter("journal.user-projection", &msgID, "UserCreated", []byte(`{}`), "boom", 3)

	got := DeadLetterModelFromDomain(letter).ToDomain()

	assert.Equal(t, letter.ID, got.ID)
	assert.Equal(t, &msgID, got.MessageID)
	assert.Equal(t, 3, got.Attempts)
	assert.False(t, got.IsReplayed())
}
