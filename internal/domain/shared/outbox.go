package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the status of an outbox record
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// Default relay backoff configuration
const (
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// OutboxRecord is an envelope waiting in, or already dispatched from, the outbox.
// A record moves to SENT exactly once and is never modified afterwards.
// AggregateVersion orders the records of one aggregate.
type OutboxRecord struct {
	ID               uuid.UUID
	EventID          uuid.UUID
	EventType        string
	AggregateID      uuid.UUID
	AggregateVersion int64
	Payload          []byte
	OccurredAt       time.Time
	Status           OutboxStatus
	AttemptCount     int
	LastError        string
	NextAttemptAt    *time.Time
	LeaseOwner       string
	LeaseExpiresAt   *time.Time
	DispatchedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewOutboxRecord creates a pending record for an envelope about version
// of a user aggregate
func NewOutboxRecord(env Envelope, aggregateID uuid.UUID, version int64) *OutboxRecord {
	now := time.Now().UTC()
	return &OutboxRecord{
		ID:               uuid.New(),
		EventID:          env.ID(),
		EventType:        env.Type(),
		AggregateID:      aggregateID,
		AggregateVersion: version,
		Payload:          env.Payload(),
		OccurredAt:       env.OccurredAt(),
		Status:           OutboxStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Envelope rebuilds the wire envelope stored in the record
func (r *OutboxRecord) Envelope() Envelope {
	return RestoreEnvelope(r.EventID, r.EventType, r.Payload, r.OccurredAt)
}

// IsDispatched returns true once the record has been confirmed by the broker
func (r *OutboxRecord) IsDispatched() bool {
	return r.Status == OutboxStatusSent
}

// Backoff returns the delay before the given attempt is retried.
// Exponential: base, 2*base, 4*base ... capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// OutboxRepository defines the interface for outbox persistence
type OutboxRepository interface {
	// Save persists one or more outbox records
	Save(ctx context.Context, records ...*OutboxRecord) error
	// Claim leases up to limit due records to owner, oldest first, skipping
	// aggregates that still have an undispatched record of a lower version.
	Claim(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]*OutboxRecord, error)
	// MarkSent marks a leased record as dispatched. Returns ErrLeaseLost when the
	// lease is no longer held by owner.
	MarkSent(ctx context.Context, id uuid.UUID, owner string) error
	// MarkFailed releases a leased record and schedules its next attempt.
	MarkFailed(ctx context.Context, id uuid.UUID, owner string, errMsg string, nextAttemptAt time.Time) error
	// FindByID retrieves a single outbox record by ID
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxRecord, error)
	// DeleteDispatchedBefore deletes dispatched records older than the specified time
	DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error)
	// CountByStatus returns count of records for each status
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}
