package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/identity"
)

// CreateUserInput contains input for creating a user
type CreateUserInput struct {
	UserName string
}

// RenameUserInput contains input for renaming a user
type RenameUserInput struct {
	ID       uuid.UUID
	UserName string
}

// UserDTO represents user data transfer object
type UserDTO struct {
	ID        uuid.UUID `json:"id"`
	UserName  string    `json:"user_name"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserDTO(u *identity.User) *UserDTO {
	return &UserDTO{
		ID:        u.ID,
		UserName:  u.UserName,
		Version:   u.Version,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
