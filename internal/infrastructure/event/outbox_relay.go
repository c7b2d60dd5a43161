package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/messaging"
	"github.com/tradejournal/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutboxRelayConfig holds configuration for the outbox relay
type OutboxRelayConfig struct {
	InstanceID       string
	BatchSize        int
	PollInterval     time.Duration
	LeaseTTL         time.Duration
	PublishTimeout   time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultOutboxRelayConfig returns default configuration
func DefaultOutboxRelayConfig() OutboxRelayConfig {
	return OutboxRelayConfig{
		InstanceID:       defaultInstanceID(),
		BatchSize:        100,
		PollInterval:     5 * time.Second,
		LeaseTTL:         30 * time.Second,
		PublishTimeout:   10 * time.Second,
		BaseBackoff:      shared.DefaultBaseBackoff,
		MaxBackoff:       shared.DefaultMaxBackoff,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return host + "-" + uuid.NewString()[:8]
}

// OutboxRelay moves committed outbox records to the broker.
// Delivery is at least once: a record is marked SENT only after the broker
// confirmed it, so a crash in between republishes it.
type OutboxRelay struct {
	repo      shared.OutboxRepository
	publisher messaging.Publisher
	config    OutboxRelayConfig
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RelayOption configures an OutboxRelay
type RelayOption func(*OutboxRelay)

// WithRelayMetrics records relay counters on m
func WithRelayMetrics(m *telemetry.SyncMetrics) RelayOption {
	return func(r *OutboxRelay) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRelayClock overrides the clock used for backoff scheduling
func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *OutboxRelay) {
		r.now = now
	}
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(
	repo shared.OutboxRepository,
	publisher messaging.Publisher,
	config OutboxRelayConfig,
	logger *zap.Logger,
	opts ...RelayOption,
) *OutboxRelay {
	defaults := DefaultOutboxRelayConfig()
	if config.InstanceID == "" {
		config.InstanceID = defaults.InstanceID
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.CleanupRetention <= 0 {
		config.CleanupRetention = defaults.CleanupRetention
	}

	r := &OutboxRelay{
		repo:      repo,
		publisher: publisher,
		config:    config,
		metrics:   &telemetry.SyncMetrics{},
		logger:    logger.Named("outbox_relay").With(zap.String("instance_id", config.InstanceID)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts the background relay loops
func (r *OutboxRelay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.relayLoop(ctx)

	if r.config.CleanupEnabled {
		r.wg.Add(1)
		go r.cleanupLoop(ctx)
	}

	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Duration("lease_ttl", r.config.LeaseTTL),
	)

	return nil
}

// Stop cancels the loops and waits for an in-flight record to finish
func (r *OutboxRelay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("outbox relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *OutboxRelay) relayLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims one batch and dispatches it. It returns the number of
// records confirmed by the broker.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	records, err := r.repo.Claim(ctx, r.config.InstanceID, r.config.BatchSize, r.config.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("claim outbox records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	r.metrics.OutboxClaimed.Add(ctx, int64(len(records)))

	sent := 0
	for i, rec := range records {
		// Records not yet started stay leased and return to the pool when
		// their lease expires.
		if ctx.Err() != nil {
			r.logger.Info("outbox relay stopping mid-batch",
				zap.Int("undispatched", len(records)-i),
			)
			break
		}
		if r.dispatch(ctx, rec) {
			sent++
		}
	}
	return sent, nil
}

// dispatch publishes one record and records the outcome. Once started it runs
// to completion on a context detached from cancellation.
func (r *OutboxRelay) dispatch(parent context.Context, rec *shared.OutboxRecord) bool {
	ctx := context.WithoutCancel(parent)
	ctx, span := telemetry.StartSpan(ctx, "outbox.publish", trace.SpanKindProducer,
		telemetry.AttrEventType.String(rec.EventType),
	)
	defer span.End()

	log := r.logger.With(
		zap.String("event_id", rec.EventID.String()),
		zap.String("event_type", rec.EventType),
		zap.String("aggregate_id", rec.AggregateID.String()),
	)

	body, err := json.Marshal(rec.Envelope())
	if err == nil {
		pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
		err = r.publisher.Publish(pubCtx, messaging.Message{
			ID:         rec.EventID,
			Type:       rec.EventType,
			RoutingKey: rec.EventType,
			Body:       body,
			Timestamp:  rec.OccurredAt,
		})
		cancel()
	}

	if err != nil {
		telemetry.RecordError(span, err)
		r.metrics.OutboxPublishFailed.Inc(ctx, telemetry.AttrEventType.String(rec.EventType))

		attempt := rec.AttemptCount + 1
		next := r.now().Add(shared.Backoff(attempt, r.config.BaseBackoff, r.config.MaxBackoff))
		log.Warn("outbox publish failed, will retry",
			zap.Int("attempt", attempt),
			zap.Bool("unroutable", errors.Is(err, messaging.ErrUnroutable)),
			zap.Time("next_attempt_at", next),
			zap.Error(err),
		)
		if markErr := r.repo.MarkFailed(ctx, rec.ID, r.config.InstanceID, err.Error(), next); markErr != nil {
			log.Error("failed to record outbox publish failure", zap.Error(markErr))
		}
		return false
	}

	if err := r.repo.MarkSent(ctx, rec.ID, r.config.InstanceID); err != nil {
		// The broker has the message; a later relay may publish it again and
		// the inbox drops the duplicate.
		telemetry.RecordError(span, err)
		log.Warn("failed to mark outbox record sent", zap.Error(err))
		return false
	}

	r.metrics.OutboxPublished.Inc(ctx, telemetry.AttrEventType.String(rec.EventType))
	log.Debug("outbox record dispatched")
	return true
}

func (r *OutboxRelay) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup(ctx)
		}
	}
}

// Cleanup removes dispatched records older than the retention period
func (r *OutboxRelay) Cleanup(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.config.CleanupRetention)
	deleted, err := r.repo.DeleteDispatchedBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to cleanup dispatched outbox records", zap.Error(err))
		return 0
	}

	if deleted > 0 {
		r.metrics.OutboxCleaned.Add(ctx, deleted)
		r.logger.Info("cleaned up dispatched outbox records",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted
}
