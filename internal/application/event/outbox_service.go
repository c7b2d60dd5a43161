package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// OutboxService exposes the identity outbox to operators
type OutboxService struct {
	repo   shared.OutboxRepository
	logger *zap.Logger
}

// NewOutboxService creates a new outbox service
func NewOutboxService(
	repo shared.OutboxRepository,
	logger *zap.Logger,
) *OutboxService {
	return &OutboxService{
		repo:   repo,
		logger: logger,
	}
}

// OutboxRecordDTO represents an outbox record data transfer object
type OutboxRecordDTO struct {
	ID             uuid.UUID  `json:"id"`
	EventID        uuid.UUID  `json:"event_id"`
	EventType      string     `json:"event_type"`
	AggregateID    uuid.UUID  `json:"aggregate_id"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	LastError      string     `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// OutboxStatsDTO represents outbox statistics
type OutboxStatsDTO struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// GetRecord retrieves a single outbox record by ID
func (s *OutboxService) GetRecord(ctx context.Context, id uuid.UUID) (*OutboxRecordDTO, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("RECORD_NOT_FOUND", "Outbox record not found")
		}
		s.logger.Error("Failed to find outbox record", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve outbox record")
	}

	dto := toOutboxRecordDTO(rec)
	return &dto, nil
}

// GetStats returns outbox statistics
func (s *OutboxService) GetStats(ctx context.Context) (*OutboxStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to get outbox stats", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to get outbox stats")
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &OutboxStatsDTO{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Sent:       counts[shared.OutboxStatusSent],
		Failed:     counts[shared.OutboxStatusFailed],
		Total:      total,
	}, nil
}

// toOutboxRecordDTO converts a domain OutboxRecord to OutboxRecordDTO
func toOutboxRecordDTO(rec *shared.OutboxRecord) OutboxRecordDTO {
	return OutboxRecordDTO{
		ID:             rec.ID,
		EventID:        rec.EventID,
		EventType:      rec.EventType,
		AggregateID:    rec.AggregateID,
		Status:         string(rec.Status),
		AttemptCount:   rec.AttemptCount,
		LastError:      rec.LastError,
		NextAttemptAt:  rec.NextAttemptAt,
		LeaseOwner:     rec.LeaseOwner,
		LeaseExpiresAt: rec.LeaseExpiresAt,
		DispatchedAt:   rec.DispatchedAt,
		OccurredAt:     rec.OccurredAt,
		CreatedAt:      rec.CreatedAt,
	}
}
