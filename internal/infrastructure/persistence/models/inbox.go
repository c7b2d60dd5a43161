package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
)

// InboxMessageModel records that a consumer has applied a message.
// The composite key allows at most one row per (message, consumer).
type InboxMessageModel struct {
	MessageID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConsumerName string    `gorm:"type:varchar(255);primaryKey"`
	EventType    string    `gorm:"type:varchar(64);not null"`
	ProcessedAt  time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (InboxMessageModel) TableName() string {
	return "inbox_messages"
}

// ToDomain converts the persistence model to a domain InboxRecord
func (m *InboxMessageModel) ToDomain() *shared.InboxRecord {
	return &shared.InboxRecord{
		MessageID:    m.MessageID,
		ConsumerName: m.ConsumerName,
		EventType:    m.EventType,
		ProcessedAt:  m.ProcessedAt,
	}
}

// InboxMessageModelFromDomain creates a new persistence model from a domain InboxRecord
func InboxMessageModelFromDomain(r *shared.InboxRecord) *InboxMessageModel {
	return &InboxMessageModel{
		MessageID:    r.MessageID,
		ConsumerName: r.ConsumerName,
		EventType:    r.EventType,
		ProcessedAt:  r.ProcessedAt,
	}
}

// DeadLetterModel is the persistence model for messages the consumer gave up on
type DeadLetterModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	MessageID    *uuid.UUID `gorm:"type:uuid;index"`
	ConsumerName string     `gorm:"type:varchar(255);not null;index:idx_dead_letter_consumer_created,priority:1"`
	EventType    string     `gorm:"type:varchar(64)"`
	Body         []byte
	Reason       string    `gorm:"type:text;not null"`
	Attempts     int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null;index:idx_dead_letter_consumer_created,priority:2"`
	ReplayedAt   *time.Time
}

// TableName returns the table name for GORM
func (DeadLetterModel) TableName() string {
	return "inbox_dead_letters"
}

// ToDomain converts the persistence model to a domain DeadLetter
func (m *DeadLetterModel) ToDomain() *shared.DeadLetter {
	return &shared.DeadLetter{
		ID:           m.ID,
		MessageID:    m.MessageID,
		ConsumerName: m.ConsumerName,
		EventType:    m.EventType,
		Body:         m.Body,
		Reason:       m.Reason,
		Attempts:     m.Attempts,
		CreatedAt:    m.CreatedAt,
		ReplayedAt:   m.ReplayedAt,
	}
}

// DeadLetterModelFromDomain creates a new persistence model from a domain DeadLetter
func DeadLetterModelFromDomain(d *shared.DeadLetter) *DeadLetterModel {
	return &DeadLetterModel{
		ID:           d.ID,
		MessageID:    d.MessageID,
		ConsumerName: d.ConsumerName,
		EventType:    d.EventType,
		Body:         d.Body,
		Reason:       d.Reason,
		Attempts:     d.Attempts,
		CreatedAt:    d.CreatedAt,
		ReplayedAt:   d.ReplayedAt,
	}
}
