package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserProjectionRepository persists user projections and tombstones
type UserProjectionRepository interface {
	// Lock serializes projection commands for one user until the
	// surrounding transaction ends, whether or not a row exists yet.
	Lock(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*UserProjection, error)
	// FindByIDForUpdate loads the projection and row-locks it for the
	// surrounding transaction.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*UserProjection, error)
	// Create inserts the projection. It reports false when a row with the
	// same id already exists.
	Create(ctx context.Context, p *UserProjection) (bool, error)
	Update(ctx context.Context, p *UserProjection) error
	Delete(ctx context.Context, id uuid.UUID) error
	IsTombstoned(ctx context.Context, id uuid.UUID) (bool, error)
	SaveTombstone(ctx context.Context, t *UserTombstone) error
}

// ResourceRepository persists the plans, techniques, images and trades owned by a user
type ResourceRepository interface {
	SavePlan(ctx context.Context, p *Plan) error
	FindPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	SaveTechnique(ctx context.Context, t *Technique) error
	FindTechnique(ctx context.Context, id uuid.UUID) (*Technique, error)
	SaveImage(ctx context.Context, img *TechniqueImage) error
	LinkTechnique(ctx context.Context, planID, techniqueID uuid.UUID) error
	SaveTrade(ctx context.Context, t *Trade) error
	FindTrade(ctx context.Context, id uuid.UUID) (*Trade, error)
	CountOwned(ctx context.Context, userID uuid.UUID) (OwnedCounts, error)
	// ImageKeysOwnedBy returns the storage keys of every image attached to
	// a technique owned by the user.
	ImageKeysOwnedBy(ctx context.Context, userID uuid.UUID) ([]string, error)
	// DeleteOwnedBy removes every resource owned by the user, children first.
	DeleteOwnedBy(ctx context.Context, userID uuid.UUID) error
}

// PendingImageDeletionRepository persists blob deletes that must run after commit
type PendingImageDeletionRepository interface {
	Save(ctx context.Context, deletions ...*PendingImageDeletion) error
	Remove(ctx context.Context, storageKey string) error
	// RecordFailure bumps the attempt count and holds the row back until
	// nextAttemptAt.
	RecordFailure(ctx context.Context, storageKey string, errMsg string, nextAttemptAt time.Time) error
	// FindDue returns up to limit rows whose next attempt is due, earliest
	// first.
	FindDue(ctx context.Context, limit int) ([]*PendingImageDeletion, error)
}

// OwnedCounts is the number of resources a user owns, by kind
type OwnedCounts struct {
	Plans          int64
	Techniques     int64
	Images         int64
	PlanTechniques int64
	Trades         int64
}

// IsEmpty reports whether the user owns nothing
func (c OwnedCounts) IsEmpty() bool {
	return c == OwnedCounts{}
}

// ImageStore removes technique image blobs. Deleting a key that does not
// exist succeeds.
type ImageStore interface {
	Delete(ctx context.Context, storageKey string) error
	Exists(ctx context.Context, storageKey string) (bool, error)
}
