package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/logger"
	"github.com/tradejournal/backend/internal/infrastructure/messaging"
	"github.com/tradejournal/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultConsumerName identifies the journal user projection in the inbox
const DefaultConsumerName = "journal.user-projection"

// errConcurrentDuplicate rolls back a transaction that lost the inbox insert race
var errConcurrentDuplicate = errors.New("message applied by a concurrent delivery")

// Projector applies one identity fact inside the consumer's transaction
type Projector interface {
	ApplyProjection(ctx context.Context, tx *gorm.DB, env shared.Envelope) (*journal.ProjectionResult, error)
}

// ImageReleaser removes blobs released by a committed projection
type ImageReleaser interface {
	Release(ctx context.Context, keys []string)
}

// InboxConsumerConfig holds configuration for the inbox consumer
type InboxConsumerConfig struct {
	ConsumerName    string
	MaxRedeliveries int
	ProcessTimeout  time.Duration
	AttemptTTL      time.Duration
	RetentionPeriod time.Duration
	CleanupInterval time.Duration
}

// DefaultInboxConsumerConfig returns default configuration
func DefaultInboxConsumerConfig() InboxConsumerConfig {
	return InboxConsumerConfig{
		ConsumerName:    DefaultConsumerName,
		MaxRedeliveries: 5,
		ProcessTimeout:  30 * time.Second,
		AttemptTTL:      24 * time.Hour,
		RetentionPeriod: 30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// InboxConsumer applies broker deliveries to the projection exactly once per
// message id. The inbox row and the projection change commit together.
type InboxConsumer struct {
	db          *gorm.DB
	subscriber  messaging.Subscriber
	projector   Projector
	inbox       *GormInboxRepository
	deadLetters *GormDeadLetterRepository
	tracker     shared.AttemptTracker
	images      ImageReleaser
	config      InboxConsumerConfig
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConsumerOption configures an InboxConsumer
type ConsumerOption func(*InboxConsumer)

// WithAttemptTracker counts deliveries in tracker in addition to broker death counts
func WithAttemptTracker(tracker shared.AttemptTracker) ConsumerOption {
	return func(c *InboxConsumer) {
		c.tracker = tracker
	}
}

// WithImageReleaser removes released blobs after commit
func WithImageReleaser(images ImageReleaser) ConsumerOption {
	return func(c *InboxConsumer) {
		c.images = images
	}
}

// WithConsumerMetrics records consumer counters on m
func WithConsumerMetrics(m *telemetry.SyncMetrics) ConsumerOption {
	return func(c *InboxConsumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewInboxConsumer creates a new inbox consumer
func NewInboxConsumer(
	db *gorm.DB,
	subscriber messaging.Subscriber,
	projector Projector,
	config InboxConsumerConfig,
	logger *zap.Logger,
	opts ...ConsumerOption,
) *InboxConsumer {
	defaults := DefaultInboxConsumerConfig()
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.MaxRedeliveries <= 0 {
		config.MaxRedeliveries = defaults.MaxRedeliveries
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = defaults.ProcessTimeout
	}
	if config.AttemptTTL <= 0 {
		config.AttemptTTL = defaults.AttemptTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	c := &InboxConsumer{
		db:          db,
		subscriber:  subscriber,
		projector:   projector,
		inbox:       NewGormInboxRepository(db),
		deadLetters: NewGormDeadLetterRepository(db),
		config:      config,
		metrics:     &telemetry.SyncMetrics{},
		logger:      logger.Named("inbox_consumer").With(zap.String("consumer", config.ConsumerName)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the broker and starts the retention loop
func (c *InboxConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.subscriber.Subscribe(ctx, c.Handle); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("inbox subscription ended", zap.Error(err))
		}
	}()

	if c.config.RetentionPeriod > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(ctx)
	}

	c.logger.Info("inbox consumer started",
		zap.Int("max_redeliveries", c.config.MaxRedeliveries),
	)
	return nil
}

// Stop cancels the subscription and waits for in-flight deliveries
func (c *InboxConsumer) Stop(ctx context.Context) error {
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
		c.logger.Info("inbox consumer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one delivery and returns how the broker should settle it.
// A delivery that has started runs to completion even if the subscription is
// being cancelled.
func (c *InboxConsumer) Handle(parent context.Context, d messaging.Delivery) messaging.Disposition {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.config.ProcessTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "inbox.consume", trace.SpanKindConsumer,
		telemetry.AttrConsumer.String(c.config.ConsumerName),
		telemetry.AttrEventType.String(d.Type),
	)
	defer span.End()

	ctx, log := logger.WithMessage(ctx, c.logger, d.ID.String(), d.Type)
	deliveries := c.track(ctx, d, log)

	outcome := "applied"
	defer func() {
		c.metrics.InboxDuration.RecordDuration(ctx, start,
			telemetry.AttrConsumer.String(c.config.ConsumerName),
			telemetry.AttrOutcome.String(outcome),
		)
	}()

	result, duplicate, err := c.process(ctx, d)
	switch {
	case err == nil && duplicate:
		outcome = "duplicate"
		c.metrics.InboxDuplicates.Inc(ctx, telemetry.AttrEventType.String(d.Type))
		log.Debug("duplicate message skipped")
		c.settle(ctx, d)
		return messaging.Ack

	case err == nil:
		c.metrics.InboxProcessed.Inc(ctx, telemetry.AttrEventType.String(d.Type))
		if result.HasAnomaly() {
			c.metrics.ProjectionAnomalies.Inc(ctx, telemetry.AttrEventType.String(d.Type))
			log.Warn("out-of-order anomaly",
				zap.String("anomaly", result.Anomaly),
				zap.String("user_id", result.UserID.String()),
			)
		}
		log.Debug("message applied", zap.String("outcome", string(result.Outcome)))
		c.settle(ctx, d)
		if c.images != nil && len(result.ReleasedImageKeys) > 0 {
			c.images.Release(ctx, result.ReleasedImageKeys)
		}
		return messaging.Ack

	case shared.IsPermanent(err):
		outcome = "dead_lettered"
		telemetry.RecordError(span, err)
		return c.deadLetter(ctx, d, err, deliveries, log)
	}

	telemetry.RecordError(span, err)
	attempts := max(d.DeathCount+1, deliveries)
	if attempts > c.config.MaxRedeliveries {
		outcome = "dead_lettered"
		return c.deadLetter(ctx, d, fmt.Errorf("gave up after %d attempts: %w", attempts, err), attempts, log)
	}

	outcome = "retried"
	c.metrics.InboxRetried.Inc(ctx, telemetry.AttrEventType.String(d.Type))
	if errors.Is(err, shared.ErrOutOfOrder) {
		log.Warn("out-of-order anomaly, deferring message", zap.Int("attempt", attempts), zap.Error(err))
	} else {
		log.Warn("message processing failed, will retry", zap.Int("attempt", attempts), zap.Error(err))
	}
	return messaging.Retry
}

// process decodes the delivery and applies it in one transaction. Panics are
// converted into transient errors.
func (c *InboxConsumer) process(ctx context.Context, d messaging.Delivery) (result *journal.ProjectionResult, duplicate bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, duplicate = nil, false
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	env, err := shared.DecodeEnvelope(d.Body)
	if err != nil {
		return nil, false, err
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inbox := c.inbox.WithTx(tx)

		seen, err := inbox.Exists(ctx, env.ID(), c.config.ConsumerName)
		if err != nil {
			return fmt.Errorf("check inbox: %w", err)
		}
		if seen {
			duplicate = true
			return nil
		}

		result, err = c.projector.ApplyProjection(ctx, tx, env)
		if err != nil {
			return err
		}

		inserted, err := inbox.Insert(ctx, &shared.InboxRecord{
			MessageID:    env.ID(),
			ConsumerName: c.config.ConsumerName,
			EventType:    env.Type(),
			ProcessedAt:  time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("record inbox message: %w", err)
		}
		if !inserted {
			return errConcurrentDuplicate
		}
		return nil
	})
	if errors.Is(err, errConcurrentDuplicate) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if duplicate {
		return nil, true, nil
	}
	if result == nil {
		result = &journal.ProjectionResult{Outcome: journal.OutcomeApplied}
	}
	return result, false, nil
}

// deadLetter parks the message. When the dead letter cannot be stored the
// message is retried instead of being dropped.
func (c *InboxConsumer) deadLetter(ctx context.Context, d messaging.Delivery, cause error, attempts int, log *zap.Logger) messaging.Disposition {
	var messageID *uuid.UUID
	if d.ID != uuid.Nil {
		id := d.ID
		messageID = &id
	}
	attempts = max(attempts, 1)

	letter := shared.NewDeadLetter(c.config.ConsumerName, messageID, d.Type, d.Body, cause.Error(), attempts)
	if err := c.deadLetters.Save(ctx, letter); err != nil {
		log.Error("failed to store dead letter, will retry", zap.Error(err), zap.NamedError("cause", cause))
		return messaging.Retry
	}

	c.metrics.InboxDeadLettered.Inc(ctx, telemetry.AttrEventType.String(d.Type))
	log.Error("message dead-lettered",
		zap.String("dead_letter_id", letter.ID.String()),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	c.settle(ctx, d)
	return messaging.Ack
}

// track counts this delivery in the attempt tracker. It returns zero when
// there is no tracker or it is unavailable.
func (c *InboxConsumer) track(ctx context.Context, d messaging.Delivery, log *zap.Logger) int {
	if c.tracker == nil || d.ID == uuid.Nil {
		return 0
	}
	n, err := c.tracker.Increment(ctx, c.trackerKey(d.ID), c.config.AttemptTTL)
	if err != nil {
		log.Warn("failed to count delivery attempt", zap.Error(err))
		return 0
	}
	return int(n)
}

// settle forgets the delivery count of an acknowledged message
func (c *InboxConsumer) settle(ctx context.Context, d messaging.Delivery) {
	if c.tracker == nil || d.ID == uuid.Nil {
		return
	}
	if err := c.tracker.Reset(ctx, c.trackerKey(d.ID)); err != nil {
		c.logger.Debug("failed to reset delivery attempts", zap.Error(err))
	}
}

func (c *InboxConsumer) trackerKey(id uuid.UUID) string {
	return c.config.ConsumerName + ":" + id.String()
}

func (c *InboxConsumer) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup removes inbox records older than the retention period
func (c *InboxConsumer) Cleanup(ctx context.Context) int64 {
	cutoff := time.Now().Add(-c.config.RetentionPeriod)
	deleted, err := c.inbox.DeleteProcessedBefore(ctx, c.config.ConsumerName, cutoff)
	if err != nil {
		c.logger.Error("failed to cleanup inbox records", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		c.logger.Info("cleaned up inbox records",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted
}
