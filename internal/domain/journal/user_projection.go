package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
)

// ReorderPolicy decides what happens to an update that arrives before the
// user it refers to has been created locally.
type ReorderPolicy string

const (
	// ReorderPlaceholder seeds a placeholder projection from the early update.
	// The late create promotes it without overwriting newer data.
	ReorderPlaceholder ReorderPolicy = "placeholder"
	// ReorderDefer rejects the early update as out of order so the broker
	// redelivers it after the create has been applied.
	ReorderDefer ReorderPolicy = "defer"
)

// ParseReorderPolicy parses a configured policy name
func ParseReorderPolicy(s string) (ReorderPolicy, error) {
	switch ReorderPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case ReorderPlaceholder, "":
		return ReorderPlaceholder, nil
	case ReorderDefer:
		return ReorderDefer, nil
	default:
		return "", fmt.Errorf("unknown reorder policy %q", s)
	}
}

// UserProjection is the journal service's local copy of an identity user.
// SourceVersion is the identity aggregate version of the newest fact applied
// to it. Versions come from the user's optimistic lock, so they order facts
// even when the publishing clocks disagree.
type UserProjection struct {
	ID            uuid.UUID
	Name          string
	Placeholder   bool
	SourceVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUserProjection creates a projection from a UserCreated fact
func NewUserProjection(id uuid.UUID, name string, version int64) (*UserProjection, error) {
	if id == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User id cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError("INVALID_USER", "User name cannot be empty")
	}
	now := time.Now()
	return &UserProjection{
		ID:            id,
		Name:          name,
		SourceVersion: version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewPlaceholderProjection creates a projection from an update that arrived
// before the corresponding create.
func NewPlaceholderProjection(id uuid.UUID, name string, version int64) (*UserProjection, error) {
	p, err := NewUserProjection(id, name, version)
	if err != nil {
		return nil, err
	}
	p.Placeholder = true
	return p, nil
}

// ApplyCreated applies a UserCreated fact to an existing projection.
// A real projection is left untouched. A placeholder is promoted and only takes
// the created name when that fact is not older than what it already holds.
func (p *UserProjection) ApplyCreated(name string, version int64) bool {
	if !p.Placeholder {
		return false
	}
	p.Placeholder = false
	if version >= p.SourceVersion {
		p.Name = name
		p.SourceVersion = version
	}
	p.UpdatedAt = time.Now()
	return true
}

// ApplyUpdated applies a UserUpdated fact. Facts of a lower version than the
// last applied one are ignored so the newest name wins regardless of delivery
// order.
func (p *UserProjection) ApplyUpdated(name string, version int64) bool {
	if version < p.SourceVersion {
		return false
	}
	if strings.TrimSpace(name) == "" {
		return false
	}
	p.Name = name
	p.SourceVersion = version
	p.UpdatedAt = time.Now()
	return true
}

// UserTombstone remembers a deleted user so late facts cannot resurrect it
type UserTombstone struct {
	UserID    uuid.UUID
	DeletedAt time.Time
}
