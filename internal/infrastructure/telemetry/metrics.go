package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys shared by the sync metrics.
const (
	AttrEventType = attribute.Key("event_type")
	AttrConsumer  = attribute.Key("consumer")
	AttrOutcome   = attribute.Key("outcome")
	AttrStatus    = attribute.Key("status")
	AttrState     = attribute.Key("state")
)

// Counter is a helper for creating and recording counter metrics.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new Counter metric.
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return &Counter{counter: c}, nil
}

// Add increments the counter by the given value with optional attributes.
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1 with optional attributes.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram is a helper for recording duration distributions.
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a histogram measured in seconds.
func NewHistogram(meter metric.Meter, name, description string, boundaries ...float64) (*Histogram, error) {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(description),
		metric.WithUnit("s"),
	}
	if len(boundaries) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(boundaries...))
	}
	h, err := meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return &Histogram{histogram: h}, nil
}

// RecordDuration records the elapsed time since start.
func (h *Histogram) RecordDuration(ctx context.Context, start time.Time, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.histogram.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}

// SyncMetrics holds the instruments of the outbox relay and inbox consumer.
type SyncMetrics struct {
	OutboxClaimed       *Counter
	OutboxPublished     *Counter
	OutboxPublishFailed *Counter
	OutboxCleaned       *Counter

	InboxProcessed    *Counter
	InboxDuplicates   *Counter
	InboxRetried      *Counter
	InboxDeadLettered *Counter
	InboxDuration     *Histogram

	ProjectionAnomalies *Counter
	ImagesDeleted       *Counter
	ImageDeleteFailed   *Counter
}

// NewSyncMetrics creates every sync instrument on the given meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	counters := []struct {
		target      **Counter
		name        string
		description string
		unit        string
	}{
		{&m.OutboxClaimed, "outbox_records_claimed_total", "Outbox records claimed by the relay", "{record}"},
		{&m.OutboxPublished, "outbox_records_published_total", "Outbox records published and confirmed", "{record}"},
		{&m.OutboxPublishFailed, "outbox_publish_failures_total", "Failed outbox publish attempts", "{attempt}"},
		{&m.OutboxCleaned, "outbox_records_cleaned_total", "Dispatched outbox records removed by cleanup", "{record}"},
		{&m.InboxProcessed, "inbox_messages_processed_total", "Messages applied to the projection", "{message}"},
		{&m.InboxDuplicates, "inbox_messages_duplicate_total", "Redelivered messages skipped by the inbox", "{message}"},
		{&m.InboxRetried, "inbox_messages_retried_total", "Messages rejected for redelivery", "{message}"},
		{&m.InboxDeadLettered, "inbox_messages_dead_lettered_total", "Messages parked in the dead-letter store", "{message}"},
		{&m.ProjectionAnomalies, "projection_anomalies_total", "Out-of-order facts handled by the projection", "{fact}"},
		{&m.ImagesDeleted, "image_deletions_total", "Technique images removed from object storage", "{object}"},
		{&m.ImageDeleteFailed, "image_deletion_failures_total", "Failed technique image removals", "{object}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(meter, c.name, c.description, c.unit)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	h, err := NewHistogram(meter, "inbox_message_duration_seconds", "Time spent handling one inbound message",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5)
	if err != nil {
		return nil, err
	}
	m.InboxDuration = h
	return m, nil
}

// RegisterPoolMetrics observes the database pool on every collection.
func RegisterPoolMetrics(meter metric.Meter, stats func() (sql.DBStats, error)) error {
	conns, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Open database connections by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return fmt.Errorf("failed to create gauge db_pool_connections: %w", err)
	}
	waits, err := meter.Int64ObservableCounter("db_pool_waits_total",
		metric.WithDescription("Connection requests that had to wait for a free connection"),
		metric.WithUnit("{wait}"))
	if err != nil {
		return fmt.Errorf("failed to create counter db_pool_waits_total: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s, err := stats()
		if err != nil {
			return err
		}
		o.ObserveInt64(conns, int64(s.InUse), metric.WithAttributes(AttrState.String("in_use")))
		o.ObserveInt64(conns, int64(s.Idle), metric.WithAttributes(AttrState.String("idle")))
		o.ObserveInt64(waits, s.WaitCount)
		return nil
	}, conns, waits)
	if err != nil {
		return fmt.Errorf("failed to register pool metrics: %w", err)
	}
	return nil
}
