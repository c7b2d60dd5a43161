// Package identity holds the identity service's user commands. Every
// mutation records its outbox fact in the same transaction as the row change.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/identity"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserService handles user management operations
type UserService struct {
	db     *gorm.DB
	users  *persistence.GormUserRepository
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB, logger *zap.Logger) *UserService {
	return &UserService{
		db:     db,
		users:  persistence.NewGormUserRepository(db),
		logger: logger.Named("user_service"),
	}
}

// Create creates a new user and records UserCreated
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*UserDTO, error) {
	user, err := identity.NewUser(input.UserName)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.users.WithTx(tx)

		exists, err := repo.ExistsByUserName(ctx, user.UserName)
		if err != nil {
			return err
		}
		if exists {
			return errUserNameTaken
		}
		if err := repo.Create(ctx, user); err != nil {
			return err
		}
		return event.RecordOutboxEvent(ctx, tx, shared.FactCreated, user.ID, &user.UserName, int64(user.Version))
	})
	if err != nil {
		return nil, s.translate(err, "Failed to create user", zap.String("user_name", user.UserName))
	}

	s.logger.Info("User created",
		zap.String("user_id", user.ID.String()),
		zap.String("user_name", user.UserName))

	return toUserDTO(user), nil
}

// GetByID retrieves a user by ID
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, "Failed to find user", zap.String("user_id", id.String()))
	}
	return toUserDTO(user), nil
}

// Rename changes a user's name and records UserUpdated. Renaming to the
// current name records nothing.
func (s *UserService) Rename(ctx context.Context, input RenameUserInput) (*UserDTO, error) {
	var user *identity.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.users.WithTx(tx)

		var err error
		user, err = repo.FindByID(ctx, input.ID)
		if err != nil {
			return err
		}
		previous := user.UserName
		changed, err := user.Rename(input.UserName)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if !strings.EqualFold(previous, user.UserName) {
			exists, err := repo.ExistsByUserName(ctx, user.UserName)
			if err != nil {
				return err
			}
			if exists {
				return errUserNameTaken
			}
		}
		if err := repo.Update(ctx, user); err != nil {
			return err
		}
		return event.RecordOutboxEvent(ctx, tx, shared.FactUpdated, user.ID, &user.UserName, int64(user.Version))
	})
	if err != nil {
		return nil, s.translate(err, "Failed to rename user", zap.String("user_id", input.ID.String()))
	}

	s.logger.Info("User renamed",
		zap.String("user_id", user.ID.String()),
		zap.String("user_name", user.UserName))

	return toUserDTO(user), nil
}

// Delete removes a user and records UserDeleted
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.users.WithTx(tx)

		user, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		user.MarkDeleted()
		if err := repo.Delete(ctx, user); err != nil {
			return err
		}
		return event.RecordOutboxEvent(ctx, tx, shared.FactDeleted, id, nil, int64(user.Version))
	})
	if err != nil {
		return s.translate(err, "Failed to delete user", zap.String("user_id", id.String()))
	}

	s.logger.Info("User deleted", zap.String("user_id", id.String()))
	return nil
}

var errUserNameTaken = shared.NewDomainError("USERNAME_EXISTS", "Username already exists")

// translate maps repository failures to the errors returned to callers.
// Domain errors pass through; anything else is logged and hidden.
func (s *UserService) translate(err error, msg string, fields ...zap.Field) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return shared.NewDomainError("USER_NOT_FOUND", "User not found")
	case errors.Is(err, shared.ErrAlreadyExists):
		return errUserNameTaken
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	s.logger.Error(msg, append(fields, zap.Error(err))...)
	return shared.NewDomainError("INTERNAL_ERROR", msg)
}
