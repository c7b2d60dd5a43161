package identity

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
)

var userNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-. ]+$`)

// User is the identity aggregate. Its id and name are the facts the journal
// service mirrors.
type User struct {
	shared.BaseAggregateRoot
	UserName string
}

// NewUser creates a user with a generated id
func NewUser(userName string) (*User, error) {
	name, err := normalizeUserName(userName)
	if err != nil {
		return nil, err
	}
	return &User{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserName:          name,
	}, nil
}

// Rename changes the display name. It reports whether the name actually changed.
func (u *User) Rename(userName string) (bool, error) {
	name, err := normalizeUserName(userName)
	if err != nil {
		return false, err
	}
	if name == u.UserName {
		return false, nil
	}
	u.UserName = name
	u.NextVersion()
	return true, nil
}

// MarkDeleted advances the version so the deletion fact orders after every
// earlier fact about this user.
func (u *User) MarkDeleted() {
	u.NextVersion()
}

func normalizeUserName(userName string) (string, error) {
	name := strings.TrimSpace(userName)
	if name == "" {
		return "", shared.NewDomainError("INVALID_USERNAME", "Username cannot be empty")
	}
	if len(name) < 3 {
		return "", shared.NewDomainError("INVALID_USERNAME", "Username must be at least 3 characters")
	}
	if len(name) > 100 {
		return "", shared.NewDomainError("INVALID_USERNAME", "Username cannot exceed 100 characters")
	}
	if !userNamePattern.MatchString(name) {
		return "", shared.NewDomainError("INVALID_USERNAME", "Username can only contain letters, numbers, spaces, underscores, hyphens, and dots")
	}
	return name, nil
}

// UserRepository persists users
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) error
	// Update persists a renamed user. It fails with ErrConcurrencyConflict
	// when the stored version is not the one the user was loaded at.
	Update(ctx context.Context, user *User) error
	// Delete removes a user marked deleted, guarded the same way as Update.
	Delete(ctx context.Context, user *User) error
	ExistsByUserName(ctx context.Context, userName string) (bool, error)
}
