package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/infrastructure/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInMemoryAttemptTracker(t *testing.T) {
	tracker := NewInMemoryAttemptTracker()
	defer tracker.Close()

	ctx := context.Background()

	t.Run("counts deliveries per key", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := tracker.Increment(ctx, "msg-1", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		got, err := tracker.Increment(ctx, "msg-2", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("reset forgets the key", func(t *testing.T) {
		require.NoError(t, tracker.Reset(ctx, "msg-1"))

		got, err := tracker.Increment(ctx, "msg-1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("expired counters restart", func(t *testing.T) {
		_, err := tracker.Increment(ctx, "msg-3", 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		got, err := tracker.Increment(ctx, "msg-3", 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("cleanup drops expired counters", func(t *testing.T) {
		_, err := tracker.Increment(ctx, "msg-4", time.Millisecond)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		before := tracker.Size()
		tracker.cleanup()
		assert.Less(t, tracker.Size(), before)
	})
}

func TestInMemoryAttemptTracker_CloseIsIdempotent(t *testing.T) {
	tracker := NewInMemoryAttemptTracker()
	assert.NoError(t, tracker.Close())
	assert.NoError(t, tracker.Close())
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisAttemptTracker_WrapsErrors(t *testing.T) {
	client := unreachableRedis()
	tracker := NewRedisAttemptTrackerWithClient(client, "")
	defer tracker.Close()

	assert.Equal(t, defaultAttemptKeyPrefix, tracker.keyPrefix)

	_, err := tracker.Increment(context.Background(), "msg-1", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to increment delivery attempts")

	err = tracker.Reset(context.Background(), "msg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reset delivery attempts")
}

func TestAttemptTrackerFactory(t *testing.T) {
	unreachable := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	t.Run("disabled redis uses memory", func(t *testing.T) {
		tracker, err := NewAttemptTrackerFactory(config.RedisConfig{}).CreateTracker()
		require.NoError(t, err)
		defer tracker.Close()
		assert.IsType(t, &InMemoryAttemptTracker{}, tracker)
	})

	t.Run("falls back when redis is unreachable", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		tracker, err := NewAttemptTrackerFactory(unreachable, WithLogger(zap.New(core))).CreateTracker()
		require.NoError(t, err)
		defer tracker.Close()
		assert.IsType(t, &InMemoryAttemptTracker{}, tracker)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("fails when fallback is disabled", func(t *testing.T) {
		_, err := NewAttemptTrackerFactory(unreachable, WithInMemoryFallback(false)).CreateTracker()
		assert.Error(t, err)
	})
}
