package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InboxRecord remembers that a consumer has durably applied a message.
// (MessageID, ConsumerName) is unique.
type InboxRecord struct {
	MessageID    uuid.UUID
	ConsumerName string
	EventType    string
	ProcessedAt  time.Time
}

// DeadLetter is a message parked for manual inspection.
type DeadLetter struct {
	ID           uuid.UUID
	MessageID    *uuid.UUID
	ConsumerName string
	EventType    string
	Body         []byte
	Reason       string
	Attempts     int
	CreatedAt    time.Time
	ReplayedAt   *time.Time
}

// NewDeadLetter creates a dead letter for a message body that failed for reason
func NewDeadLetter(consumerName string, messageID *uuid.UUID, eventType string, body []byte, reason string, attempts int) *DeadLetter {
	return &DeadLetter{
		ID:           uuid.New(),
		MessageID:    messageID,
		ConsumerName: consumerName,
		EventType:    eventType,
		Body:         body,
		Reason:       reason,
		Attempts:     attempts,
		CreatedAt:    time.Now(),
	}
}

// IsReplayed returns true if the dead letter has been successfully replayed
func (d *DeadLetter) IsReplayed() bool {
	return d.ReplayedAt != nil
}

// DeadLetterFilter narrows a dead letter listing
type DeadLetterFilter struct {
	ConsumerName    string
	IncludeReplayed bool
	Page            int
	PageSize        int
}

// DeadLetterRepository persists dead-lettered messages
type DeadLetterRepository interface {
	Save(ctx context.Context, letter *DeadLetter) error
	FindByID(ctx context.Context, id uuid.UUID) (*DeadLetter, error)
	Find(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetter, int64, error)
	MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) error
	Count(ctx context.Context, consumerName string) (int64, error)
}

// InboxRepository records which messages a consumer has already applied
type InboxRepository interface {
	// Exists reports whether the consumer has already applied the message
	Exists(ctx context.Context, messageID uuid.UUID, consumerName string) (bool, error)
	// Insert adds the record unless one exists for the same message and consumer.
	// It returns false when the row was already present.
	Insert(ctx context.Context, record *InboxRecord) (bool, error)
	// DeleteProcessedBefore removes a consumer's records processed before the cutoff
	DeleteProcessedBefore(ctx context.Context, consumerName string, before time.Time) (int64, error)
}

// AttemptTracker counts deliveries of a message across redeliveries,
// including those caused by a consumer crash before it could reject.
type AttemptTracker interface {
	// Increment records one more delivery of key and returns the total
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Reset forgets key once its message is settled
	Reset(ctx context.Context, key string) error
}
