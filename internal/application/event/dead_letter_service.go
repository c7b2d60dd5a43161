package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	infraevent "github.com/tradejournal/backend/internal/infrastructure/event"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeadLetterService lists and replays messages the inbox consumer parked
type DeadLetterService struct {
	db           *gorm.DB
	letters      *infraevent.GormDeadLetterRepository
	inbox        *infraevent.GormInboxRepository
	projector    infraevent.Projector
	images       infraevent.ImageReleaser
	consumerName string
	logger       *zap.Logger
}

// NewDeadLetterService creates a new dead letter service
func NewDeadLetterService(
	db *gorm.DB,
	projector infraevent.Projector,
	images infraevent.ImageReleaser,
	consumerName string,
	logger *zap.Logger,
) *DeadLetterService {
	if consumerName == "" {
		consumerName = infraevent.DefaultConsumerName
	}
	return &DeadLetterService{
		db:           db,
		letters:      infraevent.NewGormDeadLetterRepository(db),
		inbox:        infraevent.NewGormInboxRepository(db),
		projector:    projector,
		images:       images,
		consumerName: consumerName,
		logger:       logger.Named("dead_letters"),
	}
}

// DeadLetterDTO represents a dead letter data transfer object
type DeadLetterDTO struct {
	ID           uuid.UUID  `json:"id"`
	MessageID    *uuid.UUID `json:"message_id,omitempty"`
	ConsumerName string     `json:"consumer_name"`
	EventType    string     `json:"event_type"`
	Body         string     `json:"body"`
	Reason       string     `json:"reason"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	ReplayedAt   *time.Time `json:"replayed_at,omitempty"`
}

// DeadLetterFilter represents filter for querying dead letters
type DeadLetterFilter struct {
	IncludeReplayed bool `form:"include_replayed"`
	Page            int  `form:"page,omitempty" binding:"omitempty,min=1"`
	PageSize        int  `form:"page_size,omitempty" binding:"omitempty,min=1,max=100"`
}

// DeadLetterListResult represents paginated dead letter list result
type DeadLetterListResult struct {
	Letters    []DeadLetterDTO `json:"letters"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// ReplayResultDTO describes what replaying a dead letter did
type ReplayResultDTO struct {
	ID             uuid.UUID `json:"id"`
	AlreadyApplied bool      `json:"already_applied"`
	Outcome        string    `json:"outcome,omitempty"`
	Anomaly        string    `json:"anomaly,omitempty"`
	ReleasedImages int       `json:"released_images"`
	ReplayedAt     time.Time `json:"replayed_at"`
}

// List retrieves dead letters with pagination
func (s *DeadLetterService) List(ctx context.Context, filter DeadLetterFilter) (*DeadLetterListResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	letters, total, err := s.letters.Find(ctx, shared.DeadLetterFilter{
		ConsumerName:    s.consumerName,
		IncludeReplayed: filter.IncludeReplayed,
		Page:            page,
		PageSize:        pageSize,
	})
	if err != nil {
		s.logger.Error("Failed to find dead letters", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve dead letters")
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	dtos := make([]DeadLetterDTO, len(letters))
	for i, letter := range letters {
		dtos[i] = toDeadLetterDTO(letter)
	}

	return &DeadLetterListResult{
		Letters:    dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Get retrieves a single dead letter by ID
func (s *DeadLetterService) Get(ctx context.Context, id uuid.UUID) (*DeadLetterDTO, error) {
	letter, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := toDeadLetterDTO(letter)
	return &dto, nil
}

// Replay applies a dead letter through the projection as if it had been
// delivered again. The inbox still guards against applying it twice.
func (s *DeadLetterService) Replay(ctx context.Context, id uuid.UUID) (*ReplayResultDTO, error) {
	letter, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if letter.IsReplayed() {
		return nil, shared.NewDomainError("ALREADY_REPLAYED", "Dead letter has already been replayed")
	}

	env, err := shared.DecodeEnvelope(letter.Body)
	if err != nil {
		return nil, shared.NewDomainError("REPLAY_FAILED", err.Error())
	}

	replayedAt := time.Now().UTC()
	out := &ReplayResultDTO{ID: letter.ID, ReplayedAt: replayedAt}
	var result *journal.ProjectionResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inbox := s.inbox.WithTx(tx)

		seen, err := inbox.Exists(ctx, env.ID(), s.consumerName)
		if err != nil {
			return fmt.Errorf("check inbox: %w", err)
		}
		if seen {
			out.AlreadyApplied = true
		} else {
			result, err = s.projector.ApplyProjection(ctx, tx, env)
			if err != nil {
				return err
			}
			inserted, err := inbox.Insert(ctx, &shared.InboxRecord{
				MessageID:    env.ID(),
				ConsumerName: s.consumerName,
				EventType:    env.Type(),
				ProcessedAt:  replayedAt,
			})
			if err != nil {
				return fmt.Errorf("record inbox message: %w", err)
			}
			if !inserted {
				return shared.ErrConcurrencyConflict
			}
		}
		return s.letters.WithTx(tx).MarkReplayed(ctx, letter.ID, replayedAt)
	})
	if err != nil {
		return nil, s.replayError(letter, err)
	}

	if result != nil {
		out.Outcome = string(result.Outcome)
		out.Anomaly = result.Anomaly
		out.ReleasedImages = len(result.ReleasedImageKeys)
		if s.images != nil && len(result.ReleasedImageKeys) > 0 {
			s.images.Release(ctx, result.ReleasedImageKeys)
		}
	}

	s.logger.Info("Dead letter replayed",
		zap.String("id", letter.ID.String()),
		zap.String("event_type", letter.EventType),
		zap.Bool("already_applied", out.AlreadyApplied),
	)
	return out, nil
}

func (s *DeadLetterService) find(ctx context.Context, id uuid.UUID) (*shared.DeadLetter, error) {
	letter, err := s.letters.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("DEAD_LETTER_NOT_FOUND", "Dead letter not found")
		}
		s.logger.Error("Failed to find dead letter", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve dead letter")
	}
	return letter, nil
}

func (s *DeadLetterService) replayError(letter *shared.DeadLetter, err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		// MarkReplayed lost a race with another replay.
		return shared.NewDomainError("ALREADY_REPLAYED", "Dead letter has already been replayed")
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return shared.NewDomainError("ALREADY_REPLAYED", "Message was applied concurrently")
	case errors.Is(err, shared.ErrOutOfOrder), shared.IsPermanent(err):
		return shared.NewDomainError("REPLAY_FAILED", err.Error())
	}
	s.logger.Error("Failed to replay dead letter",
		zap.String("id", letter.ID.String()),
		zap.Error(err),
	)
	return shared.NewDomainError("INTERNAL_ERROR", "Failed to replay dead letter")
}

func toDeadLetterDTO(letter *shared.DeadLetter) DeadLetterDTO {
	return DeadLetterDTO{
		ID:           letter.ID,
		MessageID:    letter.MessageID,
		ConsumerName: letter.ConsumerName,
		EventType:    letter.EventType,
		Body:         string(letter.Body),
		Reason:       letter.Reason,
		Attempts:     letter.Attempts,
		CreatedAt:    letter.CreatedAt,
		ReplayedAt:   letter.ReplayedAt,
	}
}
