// Package projection applies identity facts to the journal's local user
// projection. Every command runs inside the inbox transaction it is given.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Anomalies reported when a fact arrives out of order
const (
	AnomalyCreatedAfterDelete  = "created_after_delete"
	AnomalyUpdatedAfterDelete  = "updated_after_delete"
	AnomalyUpdatedBeforeCreate = "updated_before_create"
	AnomalyDeletedBeforeCreate = "deleted_before_create"
	AnomalyStaleUpdate         = "stale_update"
)

// Service implements the projection commands for UserCreated, UserUpdated
// and UserDeleted.
type Service struct {
	policy journal.ReorderPolicy
	logger *zap.Logger
}

// NewService creates a projection service using the given reorder policy
func NewService(policy journal.ReorderPolicy, logger *zap.Logger) *Service {
	if policy == "" {
		policy = journal.ReorderPlaceholder
	}
	return &Service{
		policy: policy,
		logger: logger.Named("projection"),
	}
}

// Policy returns the configured reorder policy
func (s *Service) Policy() journal.ReorderPolicy {
	return s.policy
}

// ApplyProjection applies one envelope using tx. Validation failures are
// permanent; anything else is left for the caller to retry.
func (s *Service) ApplyProjection(ctx context.Context, tx *gorm.DB, env shared.Envelope) (*journal.ProjectionResult, error) {
	payload, err := env.UserPayload()
	if err != nil {
		return nil, err
	}

	cmd := command{
		userID:     payload.ID,
		version:    payload.Version,
		occurredAt: env.OccurredAt(),
		users:      persistence.NewGormUserProjectionRepository(tx),
		resources:  persistence.NewGormResourceRepository(tx),
		pending:    persistence.NewGormPendingImageDeletionRepository(tx),
	}
	if payload.UserName != nil {
		cmd.name = *payload.UserName
	}

	// Facts for one user apply one at a time. Without this a create and a
	// delete that both find no row can commit a live projection next to
	// a tombstone.
	if err := cmd.users.Lock(ctx, cmd.userID); err != nil {
		return nil, fmt.Errorf("lock user %s: %w", cmd.userID, err)
	}

	switch env.Type() {
	case shared.EventTypeUserCreated:
		return s.created(ctx, cmd)
	case shared.EventTypeUserUpdated:
		return s.updated(ctx, cmd)
	case shared.EventTypeUserDeleted:
		return s.deleted(ctx, cmd)
	default:
		return nil, shared.Permanent(fmt.Errorf("%w: %q", shared.ErrUnknownEventType, env.Type()))
	}
}

type command struct {
	userID     uuid.UUID
	name       string
	version    int64
	occurredAt time.Time
	users      journal.UserProjectionRepository
	resources  journal.ResourceRepository
	pending    journal.PendingImageDeletionRepository
}

func (c command) result(outcome journal.ProjectionOutcome, anomaly string) *journal.ProjectionResult {
	return &journal.ProjectionResult{UserID: c.userID, Outcome: outcome, Anomaly: anomaly}
}

func (s *Service) created(ctx context.Context, cmd command) (*journal.ProjectionResult, error) {
	deleted, err := cmd.users.IsTombstoned(ctx, cmd.userID)
	if err != nil {
		return nil, fmt.Errorf("check tombstone: %w", err)
	}
	if deleted {
		return cmd.result(journal.OutcomeIgnored, AnomalyCreatedAfterDelete), nil
	}

	p, err := journal.NewUserProjection(cmd.userID, cmd.name, cmd.version)
	if err != nil {
		return nil, shared.Permanent(err)
	}
	inserted, err := cmd.users.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create projection: %w", err)
	}
	if inserted {
		return cmd.result(journal.OutcomeApplied, ""), nil
	}

	existing, err := cmd.users.FindByIDForUpdate(ctx, cmd.userID)
	if err != nil {
		return nil, fmt.Errorf("load projection: %w", err)
	}
	if !existing.ApplyCreated(cmd.name, cmd.version) {
		return cmd.result(journal.OutcomeIgnored, ""), nil
	}
	if err := cmd.users.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("promote placeholder: %w", err)
	}
	s.logger.Debug("placeholder projection promoted", zap.String("user_id", cmd.userID.String()))
	return cmd.result(journal.OutcomeApplied, ""), nil
}

func (s *Service) updated(ctx context.Context, cmd command) (*journal.ProjectionResult, error) {
	deleted, err := cmd.users.IsTombstoned(ctx, cmd.userID)
	if err != nil {
		return nil, fmt.Errorf("check tombstone: %w", err)
	}
	if deleted {
		return cmd.result(journal.OutcomeIgnored, AnomalyUpdatedAfterDelete), nil
	}

	existing, err := cmd.users.FindByIDForUpdate(ctx, cmd.userID)
	if errors.Is(err, shared.ErrNotFound) {
		return s.updatedBeforeCreate(ctx, cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("load projection: %w", err)
	}
	return s.applyUpdate(ctx, cmd, existing)
}

func (s *Service) applyUpdate(ctx context.Context, cmd command, p *journal.UserProjection) (*journal.ProjectionResult, error) {
	if !p.ApplyUpdated(cmd.name, cmd.version) {
		return cmd.result(journal.OutcomeIgnored, AnomalyStaleUpdate), nil
	}
	if err := cmd.users.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update projection: %w", err)
	}
	return cmd.result(journal.OutcomeApplied, ""), nil
}

func (s *Service) updatedBeforeCreate(ctx context.Context, cmd command) (*journal.ProjectionResult, error) {
	if s.policy == journal.ReorderDefer {
		return nil, fmt.Errorf("%w: user %s is not projected yet", shared.ErrOutOfOrder, cmd.userID)
	}

	p, err := journal.NewPlaceholderProjection(cmd.userID, cmd.name, cmd.version)
	if err != nil {
		return nil, shared.Permanent(err)
	}
	inserted, err := cmd.users.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create placeholder: %w", err)
	}
	if inserted {
		return cmd.result(journal.OutcomeApplied, AnomalyUpdatedBeforeCreate), nil
	}

	// Another delivery created the row after the lookup.
	existing, err := cmd.users.FindByIDForUpdate(ctx, cmd.userID)
	if err != nil {
		return nil, fmt.Errorf("load projection: %w", err)
	}
	return s.applyUpdate(ctx, cmd, existing)
}

func (s *Service) deleted(ctx context.Context, cmd command) (*journal.ProjectionResult, error) {
	deleted, err := cmd.users.IsTombstoned(ctx, cmd.userID)
	if err != nil {
		return nil, fmt.Errorf("check tombstone: %w", err)
	}
	if deleted {
		return cmd.result(journal.OutcomeIgnored, ""), nil
	}

	anomaly := ""
	if _, err := cmd.users.FindByIDForUpdate(ctx, cmd.userID); err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("load projection: %w", err)
		}
		anomaly = AnomalyDeletedBeforeCreate
	}

	keys, err := cmd.resources.ImageKeysOwnedBy(ctx, cmd.userID)
	if err != nil {
		return nil, fmt.Errorf("collect image keys: %w", err)
	}
	if len(keys) > 0 {
		now := time.Now().UTC()
		pending := make([]*journal.PendingImageDeletion, len(keys))
		for i, key := range keys {
			pending[i] = &journal.PendingImageDeletion{StorageKey: key, UserID: cmd.userID, CreatedAt: now}
		}
		if err := cmd.pending.Save(ctx, pending...); err != nil {
			return nil, fmt.Errorf("queue image deletions: %w", err)
		}
	}

	if err := cmd.resources.DeleteOwnedBy(ctx, cmd.userID); err != nil {
		return nil, fmt.Errorf("delete owned resources: %w", err)
	}
	if err := cmd.users.Delete(ctx, cmd.userID); err != nil {
		return nil, fmt.Errorf("delete projection: %w", err)
	}
	if err := cmd.users.SaveTombstone(ctx, &journal.UserTombstone{UserID: cmd.userID, DeletedAt: cmd.occurredAt}); err != nil {
		return nil, fmt.Errorf("save tombstone: %w", err)
	}

	s.logger.Info("user projection deleted",
		zap.String("user_id", cmd.userID.String()),
		zap.Int("released_images", len(keys)),
	)

	res := cmd.result(journal.OutcomeApplied, anomaly)
	res.ReleasedImageKeys = keys
	return res, nil
}

var _ event.Projector = (*Service)(nil)
