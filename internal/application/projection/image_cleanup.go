package projection

import (
	"context"
	"sync"
	"time"

	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ImageCleanupConfig holds configuration for the image cleanup worker
type ImageCleanupConfig struct {
	SweepInterval  time.Duration
	SweepBatchSize int
	DeleteTimeout  time.Duration
	// A failed delete waits RetryBaseBackoff, doubling per attempt up to
	// RetryMaxBackoff, before the sweeper tries it again.
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration
}

// DefaultImageCleanupConfig returns default configuration
func DefaultImageCleanupConfig() ImageCleanupConfig {
	return ImageCleanupConfig{
		SweepInterval:    time.Minute,
		SweepBatchSize:   100,
		DeleteTimeout:    10 * time.Second,
		RetryBaseBackoff: time.Minute,
		RetryMaxBackoff:  time.Hour,
	}
}

// ImageCleanup removes technique image blobs released by a committed user
// deletion. Blobs that could not be removed stay pending and are retried by
// the sweeper.
type ImageCleanup struct {
	pending journal.PendingImageDeletionRepository
	store   journal.ImageStore
	config  ImageCleanupConfig
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ImageCleanupOption configures an ImageCleanup
type ImageCleanupOption func(*ImageCleanup)

// WithCleanupMetrics records deletion counters on m
func WithCleanupMetrics(m *telemetry.SyncMetrics) ImageCleanupOption {
	return func(c *ImageCleanup) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewImageCleanup creates a new image cleanup worker
func NewImageCleanup(
	pending journal.PendingImageDeletionRepository,
	store journal.ImageStore,
	config ImageCleanupConfig,
	logger *zap.Logger,
	opts ...ImageCleanupOption,
) *ImageCleanup {
	defaults := DefaultImageCleanupConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaults.SweepBatchSize
	}
	if config.DeleteTimeout <= 0 {
		config.DeleteTimeout = defaults.DeleteTimeout
	}
	if config.RetryBaseBackoff <= 0 {
		config.RetryBaseBackoff = defaults.RetryBaseBackoff
	}
	if config.RetryMaxBackoff < config.RetryBaseBackoff {
		config.RetryMaxBackoff = max(defaults.RetryMaxBackoff, config.RetryBaseBackoff)
	}

	c := &ImageCleanup{
		pending: pending,
		store:   store,
		config:  config,
		metrics: &telemetry.SyncMetrics{},
		logger:  logger.Named("image_cleanup"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Release deletes the given blobs. Failures are logged and left to the sweeper.
func (c *ImageCleanup) Release(ctx context.Context, keys []string) {
	for _, key := range keys {
		c.remove(ctx, key, 0)
	}
}

// Sweep retries one batch of pending deletions and returns how many succeeded
func (c *ImageCleanup) Sweep(ctx context.Context) int {
	due, err := c.pending.FindDue(ctx, c.config.SweepBatchSize)
	if err != nil {
		c.logger.Error("failed to load pending image deletions", zap.Error(err))
		return 0
	}

	removed := 0
	for _, d := range due {
		if ctx.Err() != nil {
			break
		}
		if c.remove(ctx, d.StorageKey, d.Attempts) {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("swept pending image deletions", zap.Int("removed", removed), zap.Int("due", len(due)))
	}
	return removed
}

// remove deletes one blob. attempts is how often it has failed before.
func (c *ImageCleanup) remove(ctx context.Context, key string, attempts int) bool {
	log := c.logger.With(zap.String("storage_key", key))

	delCtx, cancel := context.WithTimeout(ctx, c.config.DeleteTimeout)
	err := c.store.Delete(delCtx, key)
	cancel()
	if err != nil {
		c.metrics.ImageDeleteFailed.Inc(ctx)
		next := time.Now().UTC().Add(shared.Backoff(attempts+1, c.config.RetryBaseBackoff, c.config.RetryMaxBackoff))
		log.Warn("failed to delete image, will retry",
			zap.Error(err),
			zap.Int("attempt", attempts+1),
			zap.Time("next_attempt_at", next),
		)
		if recErr := c.pending.RecordFailure(ctx, key, err.Error(), next); recErr != nil {
			log.Error("failed to record image deletion failure", zap.Error(recErr))
		}
		return false
	}

	c.metrics.ImagesDeleted.Inc(ctx)
	if err := c.pending.Remove(ctx, key); err != nil {
		// The blob is gone; the next sweep deletes it again and clears the row.
		log.Warn("failed to clear pending image deletion", zap.Error(err))
	}
	log.Debug("image deleted")
	return true
}

// Start starts the background sweeper
func (c *ImageCleanup) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.sweepLoop(ctx)

	c.logger.Info("image cleanup started",
		zap.Duration("sweep_interval", c.config.SweepInterval),
		zap.Int("sweep_batch_size", c.config.SweepBatchSize),
	)
	return nil
}

// Stop stops the sweeper and waits for the current batch
func (c *ImageCleanup) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("image cleanup stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ImageCleanup) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

var _ event.ImageReleaser = (*ImageCleanup)(nil)
