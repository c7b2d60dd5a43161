package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
)

// OutboxRecordModel is the persistence model for identity facts waiting to be
// published. Rows are written in the same transaction as the business change.
type OutboxRecordModel struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey"`
	EventID          uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex"`
	EventType        string              `gorm:"type:varchar(64);not null"`
	AggregateID      uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_aggregate_version,priority:1"`
	AggregateVersion int64               `gorm:"not null;uniqueIndex:idx_outbox_aggregate_version,priority:2"`
	Payload          []byte              `gorm:"not null"`
	OccurredAt       time.Time           `gorm:"not null"`
	Status           shared.OutboxStatus `gorm:"type:varchar(20);not null;default:PENDING;index:idx_outbox_status_created,priority:1"`
	AttemptCount     int                 `gorm:"not null;default:0"`
	LastError        string              `gorm:"type:text"`
	NextAttemptAt    *time.Time
	LeaseOwner       string `gorm:"type:varchar(255)"`
	LeaseExpiresAt   *time.Time
	DispatchedAt     *time.Time
	CreatedAt        time.Time `gorm:"not null;index:idx_outbox_status_created,priority:2"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OutboxRecordModel) TableName() string {
	return "outbox_events"
}

// ToDomain converts the persistence model to a domain OutboxRecord
func (m *OutboxRecordModel) ToDomain() *shared.OutboxRecord {
	return &shared.OutboxRecord{
		ID:               m.ID,
		EventID:          m.EventID,
		EventType:        m.EventType,
		AggregateID:      m.AggregateID,
		AggregateVersion: m.AggregateVersion,
		Payload:          m.Payload,
		OccurredAt:       m.OccurredAt,
		Status:           m.Status,
		AttemptCount:     m.AttemptCount,
		LastError:        m.LastError,
		NextAttemptAt:    m.NextAttemptAt,
		LeaseOwner:       m.LeaseOwner,
		LeaseExpiresAt:   m.LeaseExpiresAt,
		DispatchedAt:     m.DispatchedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain OutboxRecord
func (m *OutboxRecordModel) FromDomain(r *shared.OutboxRecord) {
	m.ID = r.ID
	m.EventID = r.EventID
	m.EventType = r.EventType
	m.AggregateID = r.AggregateID
	m.AggregateVersion = r.AggregateVersion
	m.Payload = r.Payload
	m.OccurredAt = r.OccurredAt
	m.Status = r.Status
	m.AttemptCount = r.AttemptCount
	m.LastError = r.LastError
	m.NextAttemptAt = r.NextAttemptAt
	m.LeaseOwner = r.LeaseOwner
	m.LeaseExpiresAt = r.LeaseExpiresAt
	m.DispatchedAt = r.DispatchedAt
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// OutboxRecordModelFromDomain creates a new persistence model from a domain OutboxRecord
func OutboxRecordModelFromDomain(r *shared.OutboxRecord) *OutboxRecordModel {
	m := &OutboxRecordModel{}
	m.FromDomain(r)
	return m
}
