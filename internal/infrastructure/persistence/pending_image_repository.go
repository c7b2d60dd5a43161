package persistence

import (
	"context"
	"time"

	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPendingImageDeletionRepository implements PendingImageDeletionRepository using GORM
type GormPendingImageDeletionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormPendingImageDeletionRepository creates a new GormPendingImageDeletionRepository
func NewGormPendingImageDeletionRepository(db *gorm.DB) *GormPendingImageDeletionRepository {
	return &GormPendingImageDeletionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormPendingImageDeletionRepository) WithTx(tx *gorm.DB) *GormPendingImageDeletionRepository {
	return &GormPendingImageDeletionRepository{db: tx, now: r.now}
}

// Save records blob deletes. Keys already pending are left as they are.
// A delete without a next attempt time is due at once.
func (r *GormPendingImageDeletionRepository) Save(ctx context.Context, deletions ...*journal.PendingImageDeletion) error {
	if len(deletions) == 0 {
		return nil
	}
	rows := make([]models.PendingImageDeletionModel, len(deletions))
	now := r.now()
	for i, d := range deletions {
		created := d.CreatedAt
		if created.IsZero() {
			created = now
		}
		next := d.NextAttemptAt
		if next.IsZero() {
			next = created
		}
		rows[i] = models.PendingImageDeletionModel{
			StorageKey:    d.StorageKey,
			UserID:        d.UserID,
			Attempts:      d.Attempts,
			LastError:     d.LastError,
			NextAttemptAt: next,
			CreatedAt:     created,
		}
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "storage_key"}}, DoNothing: true}).
		Create(&rows).Error
}

// Remove deletes a pending row once its blob is gone
func (r *GormPendingImageDeletionRepository) Remove(ctx context.Context, storageKey string) error {
	return r.db.WithContext(ctx).Delete(&models.PendingImageDeletionModel{}, "storage_key = ?", storageKey).Error
}

// RecordFailure bumps the attempt count of a pending delete and defers it
func (r *GormPendingImageDeletionRepository) RecordFailure(ctx context.Context, storageKey string, errMsg string, nextAttemptAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PendingImageDeletionModel{}).
		Where("storage_key = ?", storageKey).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      errMsg,
			"next_attempt_at": nextAttemptAt,
		}).Error
}

// FindDue returns the pending deletes whose backoff has passed, earliest first.
// Keys that keep failing sort behind fresh ones until their delay runs out.
func (r *GormPendingImageDeletionRepository) FindDue(ctx context.Context, limit int) ([]*journal.PendingImageDeletion, error) {
	var rows []models.PendingImageDeletionModel
	if err := r.db.WithContext(ctx).
		Where("next_attempt_at <= ?", r.now()).
		Order("next_attempt_at ASC, created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*journal.PendingImageDeletion, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ journal.PendingImageDeletionRepository = (*GormPendingImageDeletionRepository)(nil)
