package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimableCondition selects records a relay may take now: new, failed and
// past their backoff, or held by a relay whose lease has run out.
const claimableCondition = `(status = ? OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (status = ? AND lease_expires_at < ?))`

// headOfLineCondition keeps per-aggregate order: a record is only claimable
// while no record of a lower version of the same aggregate is still unsent.
// Versions come from the aggregate row, so clocks play no part in the order.
const headOfLineCondition = `NOT EXISTS (SELECT 1 FROM outbox_events older WHERE older.aggregate_id = outbox_events.aggregate_id AND older.status <> ? AND older.aggregate_version < outbox_events.aggregate_version)`

// GormOutboxRepository implements OutboxRepository using GORM
type GormOutboxRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormOutboxRepository creates a new GORM-based outbox repository
func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormOutboxRepository) WithTx(tx *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: tx, now: r.now}
}

// Save persists one or more outbox records
func (r *GormOutboxRepository) Save(ctx context.Context, records ...*shared.OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*models.OutboxRecordModel, len(records))
	for i, rec := range records {
		rows[i] = models.OutboxRecordModelFromDomain(rec)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// Claim leases up to limit due records to owner, oldest first.
// Rows locked by a concurrent claim are skipped rather than waited on.
func (r *GormOutboxRepository) Claim(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]*shared.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*shared.OutboxRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()

		var rows []models.OutboxRecordModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(claimableCondition,
				shared.OutboxStatusPending,
				shared.OutboxStatusFailed, now,
				shared.OutboxStatusProcessing, now,
			).
			Where(headOfLineCondition, shared.OutboxStatusSent).
			Order("created_at ASC, aggregate_version ASC, id ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}

		expires := now.Add(leaseTTL)
		if err := tx.Model(&models.OutboxRecordModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":           shared.OutboxStatusProcessing,
				"lease_owner":      owner,
				"lease_expires_at": expires,
				"updated_at":       now,
			}).Error; err != nil {
			return err
		}

		claimed = make([]*shared.OutboxRecord, len(rows))
		for i := range rows {
			rec := rows[i].ToDomain()
			rec.Status = shared.OutboxStatusProcessing
			rec.LeaseOwner = owner
			rec.LeaseExpiresAt = &expires
			rec.UpdatedAt = now
			claimed[i] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSent records a confirmed publish. It fails with ErrLeaseLost when owner
// no longer holds the record.
func (r *GormOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID, owner string) error {
	now := r.now()
	return r.finish(ctx, id, owner, map[string]any{
		"status":           shared.OutboxStatusSent,
		"dispatched_at":    now,
		"last_error":       "",
		"next_attempt_at":  nil,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       now,
	})
}

// MarkFailed records a failed publish and when it may be retried
func (r *GormOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, owner string, errMsg string, nextAttemptAt time.Time) error {
	return r.finish(ctx, id, owner, map[string]any{
		"status":           shared.OutboxStatusFailed,
		"attempt_count":    gorm.Expr("attempt_count + 1"),
		"last_error":       errMsg,
		"next_attempt_at":  nextAttemptAt.UTC(),
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       r.now(),
	})
}

func (r *GormOutboxRepository) finish(ctx context.Context, id uuid.UUID, owner string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.OutboxRecordModel{}).
		Where("id = ? AND lease_owner = ? AND status = ?", id, owner, shared.OutboxStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrLeaseLost
	}
	return nil
}

// FindByID retrieves a single outbox record by ID
func (r *GormOutboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxRecord, error) {
	var model models.OutboxRecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// DeleteDispatchedBefore deletes sent records dispatched before the cutoff
func (r *GormOutboxRepository) DeleteDispatchedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND dispatched_at < ?", shared.OutboxStatusSent, before.UTC()).
		Delete(&models.OutboxRecordModel{})
	return result.RowsAffected, result.Error
}

// CountByStatus returns count of records for each status
func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	type statusCount struct {
		Status shared.OutboxStatus
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.OutboxRecordModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[shared.OutboxStatus]int64)
	for _, r := range results {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Ensure GormOutboxRepository implements OutboxRepository
var _ shared.OutboxRepository = (*GormOutboxRepository)(nil)
