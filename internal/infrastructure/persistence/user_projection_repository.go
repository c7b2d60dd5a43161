package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormUserProjectionRepository implements UserProjectionRepository using GORM
type GormUserProjectionRepository struct {
	db *gorm.DB
}

// NewGormUserProjectionRepository creates a new GormUserProjectionRepository
func NewGormUserProjectionRepository(db *gorm.DB) *GormUserProjectionRepository {
	return &GormUserProjectionRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormUserProjectionRepository) WithTx(tx *gorm.DB) *GormUserProjectionRepository {
	return &GormUserProjectionRepository{db: tx}
}

// Lock takes a transaction-scoped advisory lock keyed by the user id. SQLite
// already serializes writers, so there it is a no-op.
func (r *GormUserProjectionRepository) Lock(ctx context.Context, id uuid.UUID) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", id.String()).Error
}

// FindByID finds a projection by user ID
func (r *GormUserProjectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*journal.UserProjection, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindByIDForUpdate finds a projection and locks its row until the transaction ends
func (r *GormUserProjectionRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*journal.UserProjection, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormUserProjectionRepository) find(db *gorm.DB, id uuid.UUID) (*journal.UserProjection, error) {
	var model models.UserProjectionModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a projection, reporting false if one already exists
func (r *GormUserProjectionRepository) Create(ctx context.Context, p *journal.UserProjection) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(models.UserProjectionModelFromDomain(p))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Update writes the mutable projection fields
func (r *GormUserProjectionRepository) Update(ctx context.Context, p *journal.UserProjection) error {
	result := r.db.WithContext(ctx).
		Model(&models.UserProjectionModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"name":           p.Name,
			"placeholder":    p.Placeholder,
			"source_version": p.SourceVersion,
			"updated_at":     p.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a projection. Deleting a missing projection is not an error.
func (r *GormUserProjectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.UserProjectionModel{}, "id = ?", id).Error
}

// IsTombstoned reports whether the user has been deleted
func (r *GormUserProjectionRepository) IsTombstoned(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UserTombstoneModel{}).
		Where("user_id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveTombstone records a deletion. The first tombstone for a user wins.
func (r *GormUserProjectionRepository) SaveTombstone(ctx context.Context, t *journal.UserTombstone) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&models.UserTombstoneModel{UserID: t.UserID, DeletedAt: t.DeletedAt}).Error
}

var _ journal.UserProjectionRepository = (*GormUserProjectionRepository)(nil)
