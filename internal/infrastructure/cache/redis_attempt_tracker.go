package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradejournal/backend/internal/domain/shared"
)

const defaultAttemptKeyPrefix = "inbox:attempts:"

// RedisAttemptTracker implements AttemptTracker using Redis counters, so
// every consumer instance sees the same delivery count for a message
type RedisAttemptTracker struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisAttemptTracker connects to Redis and creates a tracker
func NewRedisAttemptTracker(cfg RedisConfig) (*RedisAttemptTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisAttemptTrackerWithClient(client, ""), nil
}

// NewRedisAttemptTrackerWithClient creates a tracker with an existing Redis client
func NewRedisAttemptTrackerWithClient(client redis.UniversalClient, keyPrefix string) *RedisAttemptTracker {
	if keyPrefix == "" {
		keyPrefix = defaultAttemptKeyPrefix
	}
	return &RedisAttemptTracker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Increment runs INCR and EXPIRE in one MULTI block and returns the new count
func (t *RedisAttemptTracker) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	fullKey := t.keyPrefix + key

	var incr *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.Expire(ctx, fullKey, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment delivery attempts: %w", err)
	}
	return incr.Val(), nil
}

// Reset deletes the counter for key
func (t *RedisAttemptTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset delivery attempts: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (t *RedisAttemptTracker) Close() error {
	return t.client.Close()
}

var _ shared.AttemptTracker = (*RedisAttemptTracker)(nil)
