package shared

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutboxRecord(t *testing.T) {
	userID := uuid.New()
	name := "alice"
	env, err := NewUserEnvelope(FactCreated, userID, &name, 1, time.Now())
	require.NoError(t, err)

	record := NewOutboxRecord(env, userID, 1)

	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.Equal(t, env.ID(), record.EventID)
	assert.Equal(t, EventTypeUserCreated, record.EventType)
	assert.Equal(t, userID, record.AggregateID)
	assert.Equal(t, int64(1), record.AggregateVersion)
	assert.Equal(t, OutboxStatusPending, record.Status)
	assert.Nil(t, record.DispatchedAt)
	assert.False(t, record.IsDispatched())
	assert.JSONEq(t, string(env.Payload()), string(record.Payload))
}

func TestOutboxRecord_Envelope(t *testing.T) {
	userID := uuid.New()
	name := "bob"
	occurred := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := NewUserEnvelope(FactUpdated, userID, &name, 2, occurred)
	require.NoError(t, err)

	restored := NewOutboxRecord(env, userID, 2).Envelope()

	assert.Equal(t, env.ID(), restored.ID())
	assert.Equal(t, env.Type(), restored.Type())
	assert.Equal(t, env.Payload(), restored.Payload())
	assert.True(t, occurred.Equal(restored.OccurredAt()))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt uses base", 1, time.Second},
		{"second attempt doubles", 2, 2 * time.Second},
		{"fourth attempt", 4, 8 * time.Second},
		{"zero treated as first", 0, time.Second},
		{"large attempt is capped", 40, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.attempt, time.Second, time.Minute))
		})
	}

	t.Run("defaults apply when unset", func(t *testing.T) {
		assert.Equal(t, DefaultBaseBackoff, Backoff(1, 0, 0))
		assert.Equal(t, DefaultMaxBackoff, Backoff(100, 0, 0))
	})
}
