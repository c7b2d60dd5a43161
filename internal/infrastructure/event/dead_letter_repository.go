package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormDeadLetterRepository implements DeadLetterRepository using GORM
type GormDeadLetterRepository struct {
	db *gorm.DB
}

// NewGormDeadLetterRepository creates a new GORM-based dead letter repository
func NewGormDeadLetterRepository(db *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormDeadLetterRepository) WithTx(tx *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: tx}
}

// Save persists a dead letter
func (r *GormDeadLetterRepository) Save(ctx context.Context, letter *shared.DeadLetter) error {
	return r.db.WithContext(ctx).Create(models.DeadLetterModelFromDomain(letter)).Error
}

// FindByID retrieves a dead letter by ID
func (r *GormDeadLetterRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.DeadLetter, error) {
	var model models.DeadLetterModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Find lists dead letters newest first with the total matching count
func (r *GormDeadLetterRepository) Find(ctx context.Context, filter shared.DeadLetterFilter) ([]*shared.DeadLetter, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&models.DeadLetterModel{})
		if filter.ConsumerName != "" {
			db = db.Where("consumer_name = ?", filter.ConsumerName)
		}
		if !filter.IncludeReplayed {
			db = db.Where("replayed_at IS NULL")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var rows []models.DeadLetterModel
	if err := r.db.WithContext(ctx).
		Scopes(scope).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	letters := make([]*shared.DeadLetter, len(rows))
	for i := range rows {
		letters[i] = rows[i].ToDomain()
	}
	return letters, total, nil
}

// MarkReplayed stamps a dead letter as successfully replayed
func (r *GormDeadLetterRepository) MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.DeadLetterModel{}).
		Where("id = ? AND replayed_at IS NULL", id).
		Update("replayed_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Count returns the number of unreplayed dead letters for a consumer
func (r *GormDeadLetterRepository) Count(ctx context.Context, consumerName string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.DeadLetterModel{}).Where("replayed_at IS NULL")
	if consumerName != "" {
		query = query.Where("consumer_name = ?", consumerName)
	}
	err := query.Count(&count).Error
	return count, err
}

var _ shared.DeadLetterRepository = (*GormDeadLetterRepository)(nil)
