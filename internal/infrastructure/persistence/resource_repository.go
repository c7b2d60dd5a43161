package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormResourceRepository implements ResourceRepository using GORM
type GormResourceRepository struct {
	db *gorm.DB
}

// NewGormResourceRepository creates a new GormResourceRepository
func NewGormResourceRepository(db *gorm.DB) *GormResourceRepository {
	return &GormResourceRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormResourceRepository) WithTx(tx *gorm.DB) *GormResourceRepository {
	return &GormResourceRepository{db: tx}
}

// SavePlan inserts a plan
func (r *GormResourceRepository) SavePlan(ctx context.Context, p *journal.Plan) error {
	return r.db.WithContext(ctx).Create(models.PlanModelFromDomain(p)).Error
}

// FindPlan finds a plan by ID
func (r *GormResourceRepository) FindPlan(ctx context.Context, id uuid.UUID) (*journal.Plan, error) {
	var model models.PlanModel
	if err := first(r.db.WithContext(ctx), &model, id); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveTechnique inserts a technique
func (r *GormResourceRepository) SaveTechnique(ctx context.Context, t *journal.Technique) error {
	return r.db.WithContext(ctx).Create(models.TechniqueModelFromDomain(t)).Error
}

// FindTechnique finds a technique by ID
func (r *GormResourceRepository) FindTechnique(ctx context.Context, id uuid.UUID) (*journal.Technique, error) {
	var model models.TechniqueModel
	if err := first(r.db.WithContext(ctx), &model, id); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveImage inserts an image reference
func (r *GormResourceRepository) SaveImage(ctx context.Context, img *journal.TechniqueImage) error {
	return r.db.WithContext(ctx).Create(models.TechniqueImageModelFromDomain(img)).Error
}

// LinkTechnique associates a technique with a plan. Linking twice is a no-op.
func (r *GormResourceRepository) LinkTechnique(ctx context.Context, planID, techniqueID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PlanTechniqueModel{PlanID: planID, TechniqueID: techniqueID, CreatedAt: time.Now()}).Error
}

// SaveTrade inserts or updates a trade
func (r *GormResourceRepository) SaveTrade(ctx context.Context, t *journal.Trade) error {
	return r.db.WithContext(ctx).Save(models.TradeModelFromDomain(t)).Error
}

// FindTrade finds a trade by ID
func (r *GormResourceRepository) FindTrade(ctx context.Context, id uuid.UUID) (*journal.Trade, error) {
	var model models.TradeModel
	if err := first(r.db.WithContext(ctx), &model, id); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountOwned counts every resource owned by a user
func (r *GormResourceRepository) CountOwned(ctx context.Context, userID uuid.UUID) (journal.OwnedCounts, error) {
	db := r.db.WithContext(ctx)
	var counts journal.OwnedCounts

	if err := db.Model(&models.PlanModel{}).Where("user_id = ?", userID).Count(&counts.Plans).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&models.TechniqueModel{}).Where("user_id = ?", userID).Count(&counts.Techniques).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&models.TechniqueImageModel{}).
		Where("technique_id IN (?)", r.techniqueIDs(db, userID)).
		Count(&counts.Images).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&models.PlanTechniqueModel{}).
		Where("technique_id IN (?) OR plan_id IN (?)", r.techniqueIDs(db, userID), r.planIDs(db, userID)).
		Count(&counts.PlanTechniques).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&models.TradeModel{}).Where("user_id = ?", userID).Count(&counts.Trades).Error; err != nil {
		return counts, err
	}
	return counts, nil
}

// ImageKeysOwnedBy returns the storage keys of the user's technique images
func (r *GormResourceRepository) ImageKeysOwnedBy(ctx context.Context, userID uuid.UUID) ([]string, error) {
	db := r.db.WithContext(ctx)
	var keys []string
	if err := db.Model(&models.TechniqueImageModel{}).
		Where("technique_id IN (?)", r.techniqueIDs(db, userID)).
		Order("storage_key").
		Pluck("storage_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteOwnedBy removes the user's resources, association rows first
func (r *GormResourceRepository) DeleteOwnedBy(ctx context.Context, userID uuid.UUID) error {
	db := r.db.WithContext(ctx)

	if err := db.Where("technique_id IN (?) OR plan_id IN (?)", r.techniqueIDs(db, userID), r.planIDs(db, userID)).
		Delete(&models.PlanTechniqueModel{}).Error; err != nil {
		return err
	}
	if err := db.Where("technique_id IN (?)", r.techniqueIDs(db, userID)).
		Delete(&models.TechniqueImageModel{}).Error; err != nil {
		return err
	}
	if err := db.Where("user_id = ?", userID).Delete(&models.TradeModel{}).Error; err != nil {
		return err
	}
	if err := db.Where("user_id = ?", userID).Delete(&models.TechniqueModel{}).Error; err != nil {
		return err
	}
	return db.Where("user_id = ?", userID).Delete(&models.PlanModel{}).Error
}

func (r *GormResourceRepository) techniqueIDs(db *gorm.DB, userID uuid.UUID) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).Model(&models.TechniqueModel{}).Select("id").Where("user_id = ?", userID)
}

func (r *GormResourceRepository) planIDs(db *gorm.DB, userID uuid.UUID) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).Model(&models.PlanModel{}).Select("id").Where("user_id = ?", userID)
}

func first(db *gorm.DB, dest any, id uuid.UUID) error {
	if err := db.First(dest, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return shared.ErrNotFound
		}
		return err
	}
	return nil
}

var _ journal.ResourceRepository = (*GormResourceRepository)(nil)
