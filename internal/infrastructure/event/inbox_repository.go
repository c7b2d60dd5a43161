package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInboxRepository implements InboxRepository using GORM
type GormInboxRepository struct {
	db *gorm.DB
}

// NewGormInboxRepository creates a new GORM-based inbox repository
func NewGormInboxRepository(db *gorm.DB) *GormInboxRepository {
	return &GormInboxRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormInboxRepository) WithTx(tx *gorm.DB) *GormInboxRepository {
	return &GormInboxRepository{db: tx}
}

// Exists reports whether the consumer has already applied the message
func (r *GormInboxRepository) Exists(ctx context.Context, messageID uuid.UUID, consumerName string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.InboxMessageModel{}).
		Where("message_id = ? AND consumer_name = ?", messageID, consumerName).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert adds the record with ON CONFLICT DO NOTHING. A false result means a
// concurrent delivery of the same message got there first.
func (r *GormInboxRepository) Insert(ctx context.Context, record *shared.InboxRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "consumer_name"}},
			DoNothing: true,
		}).
		Create(models.InboxMessageModelFromDomain(record))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteProcessedBefore removes a consumer's records processed before the cutoff
func (r *GormInboxRepository) DeleteProcessedBefore(ctx context.Context, consumerName string, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("consumer_name = ? AND processed_at < ?", consumerName, before.UTC()).
		Delete(&models.InboxMessageModel{})
	return result.RowsAffected, result.Error
}

var _ shared.InboxRepository = (*GormInboxRepository)(nil)
