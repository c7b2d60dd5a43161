package journal

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradejournal/backend/internal/domain/shared"
)

// Plan is a trading plan owned by a user
type Plan struct {
	shared.BaseEntity
	UserID uuid.UUID
	Name   string
}

// NewPlan creates a plan for a user
func NewPlan(userID uuid.UUID, name string) (*Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan name cannot be empty")
	}
	return &Plan{BaseEntity: shared.NewBaseEntity(), UserID: userID, Name: name}, nil
}

// Technique is a trading technique owned by a user
type Technique struct {
	shared.BaseEntity
	UserID uuid.UUID
	Name   string
}

// NewTechnique creates a technique for a user
func NewTechnique(userID uuid.UUID, name string) (*Technique, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_TECHNIQUE", "Technique name cannot be empty")
	}
	return &Technique{BaseEntity: shared.NewBaseEntity(), UserID: userID, Name: name}, nil
}

// TechniqueImage points at a stored image illustrating a technique
type TechniqueImage struct {
	ID          uuid.UUID
	TechniqueID uuid.UUID
	StorageKey  string
	CreatedAt   time.Time
}

// NewTechniqueImage creates an image reference for a technique
func NewTechniqueImage(techniqueID uuid.UUID, storageKey string) (*TechniqueImage, error) {
	storageKey = strings.TrimSpace(storageKey)
	if storageKey == "" {
		return nil, shared.NewDomainError("INVALID_IMAGE", "Storage key cannot be empty")
	}
	return &TechniqueImage{
		ID:          uuid.New(),
		TechniqueID: techniqueID,
		StorageKey:  storageKey,
		CreatedAt:   time.Now(),
	}, nil
}

// PlanTechnique associates a technique with a plan
type PlanTechnique struct {
	PlanID      uuid.UUID
	TechniqueID uuid.UUID
	CreatedAt   time.Time
}

// TradeSide is the direction of a trade
type TradeSide string

const (
	TradeSideLong  TradeSide = "long"
	TradeSideShort TradeSide = "short"
)

// Trade is a journaled trade
type Trade struct {
	shared.BaseEntity
	UserID     uuid.UUID
	PlanID     *uuid.UUID
	Symbol     string
	Side       TradeSide
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  *decimal.Decimal
}

// NewTrade records an open trade
func NewTrade(userID uuid.UUID, planID *uuid.UUID, symbol string, side TradeSide, quantity, entryPrice decimal.Decimal) (*Trade, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, shared.NewDomainError("INVALID_TRADE", "Symbol cannot be empty")
	}
	if side != TradeSideLong && side != TradeSideShort {
		return nil, shared.NewDomainError("INVALID_TRADE", "Side must be long or short")
	}
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_TRADE", "Quantity must be positive")
	}
	if !entryPrice.IsPositive() {
		return nil, shared.NewDomainError("INVALID_TRADE", "Entry price must be positive")
	}
	return &Trade{
		BaseEntity: shared.NewBaseEntity(),
		UserID:     userID,
		PlanID:     planID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: entryPrice,
	}, nil
}

// Close sets the exit price of the trade
func (t *Trade) Close(exitPrice decimal.Decimal) error {
	if t.ExitPrice != nil {
		return shared.NewDomainError("INVALID_STATE", "Trade is already closed")
	}
	if !exitPrice.IsPositive() {
		return shared.NewDomainError("INVALID_TRADE", "Exit price must be positive")
	}
	t.ExitPrice = &exitPrice
	t.Touch()
	return nil
}

// ProfitLoss returns the realized result of a closed trade
func (t *Trade) ProfitLoss() (decimal.Decimal, bool) {
	if t.ExitPrice == nil {
		return decimal.Zero, false
	}
	diff := t.ExitPrice.Sub(t.EntryPrice)
	if t.Side == TradeSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(t.Quantity), true
}

// PendingImageDeletion is a stored image whose rows are gone but whose blob
// still has to be removed.
type PendingImageDeletion struct {
	StorageKey    string
	UserID        uuid.UUID
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}
