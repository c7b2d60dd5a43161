package cache

import (
	"fmt"

	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Tracker is an AttemptTracker that holds resources until closed
type Tracker interface {
	shared.AttemptTracker
	Close() error
}

// AttemptTrackerFactory creates attempt trackers based on configuration
type AttemptTrackerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// AttemptTrackerFactoryOption is a functional option for configuring the factory
type AttemptTrackerFactoryOption func(*AttemptTrackerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) AttemptTrackerFactoryOption {
	return func(f *AttemptTrackerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory tracker
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) AttemptTrackerFactoryOption {
	return func(f *AttemptTrackerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewAttemptTrackerFactory creates a new factory
func NewAttemptTrackerFactory(cfg config.RedisConfig, opts ...AttemptTrackerFactoryOption) *AttemptTrackerFactory {
	f := &AttemptTrackerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateTracker returns a Redis tracker when Redis is enabled and reachable.
// Otherwise it falls back to an in-memory tracker if allowed.
func (f *AttemptTrackerFactory) CreateTracker() (Tracker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory delivery attempt tracker")
		return NewInMemoryAttemptTracker(), nil
	}

	tracker, err := NewRedisAttemptTracker(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("using Redis delivery attempt tracker")
		return tracker, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for attempt tracking but unavailable: %w", err)
	}

	// Crash redeliveries are then only counted per instance.
	f.logger.Warn("Redis unavailable, falling back to in-memory delivery attempt tracker",
		zap.Error(err),
	)
	return NewInMemoryAttemptTracker(), nil
}
