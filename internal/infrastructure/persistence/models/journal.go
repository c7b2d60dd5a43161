package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradejournal/backend/internal/domain/journal"
)

// UserProjectionModel is the journal service's local copy of an identity user
type UserProjectionModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name          string    `gorm:"type:varchar(100);not null"`
	Placeholder   bool      `gorm:"not null;default:false"`
	SourceVersion int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UserProjectionModel) TableName() string {
	return "user_projections"
}

// ToDomain converts the persistence model to a domain UserProjection
func (m *UserProjectionModel) ToDomain() *journal.UserProjection {
	return &journal.UserProjection{
		ID:            m.ID,
		Name:          m.Name,
		Placeholder:   m.Placeholder,
		SourceVersion: m.SourceVersion,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// UserProjectionModelFromDomain creates a new persistence model from a domain UserProjection
func UserProjectionModelFromDomain(p *journal.UserProjection) *UserProjectionModel {
	return &UserProjectionModel{
		ID:            p.ID,
		Name:          p.Name,
		Placeholder:   p.Placeholder,
		SourceVersion: p.SourceVersion,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// UserTombstoneModel remembers a deleted user id
type UserTombstoneModel struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeletedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UserTombstoneModel) TableName() string {
	return "user_tombstones"
}

// ToDomain converts the persistence model to a domain UserTombstone
func (m *UserTombstoneModel) ToDomain() *journal.UserTombstone {
	return &journal.UserTombstone{UserID: m.UserID, DeletedAt: m.DeletedAt}
}

// PlanModel is the persistence model for trading plans
type PlanModel struct {
	BaseModel
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name   string    `gorm:"type:varchar(200);not null"`
}

// TableName returns the table name for GORM
func (PlanModel) TableName() string {
	return "plans"
}

// ToDomain converts the persistence model to a domain Plan
func (m *PlanModel) ToDomain() *journal.Plan {
	return &journal.Plan{BaseEntity: m.BaseModel.ToDomain(), UserID: m.UserID, Name: m.Name}
}

// PlanModelFromDomain creates a new persistence model from a domain Plan
func PlanModelFromDomain(p *journal.Plan) *PlanModel {
	m := &PlanModel{UserID: p.UserID, Name: p.Name}
	m.FromDomainBaseEntity(p.BaseEntity)
	return m
}

// TechniqueModel is the persistence model for trading techniques
type TechniqueModel struct {
	BaseModel
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name   string    `gorm:"type:varchar(200);not null"`
}

// TableName returns the table name for GORM
func (TechniqueModel) TableName() string {
	return "techniques"
}

// ToDomain converts the persistence model to a domain Technique
func (m *TechniqueModel) ToDomain() *journal.Technique {
	return &journal.Technique{BaseEntity: m.BaseModel.ToDomain(), UserID: m.UserID, Name: m.Name}
}

// TechniqueModelFromDomain creates a new persistence model from a domain Technique
func TechniqueModelFromDomain(t *journal.Technique) *TechniqueModel {
	m := &TechniqueModel{UserID: t.UserID, Name: t.Name}
	m.FromDomainBaseEntity(t.BaseEntity)
	return m
}

// TechniqueImageModel references an image blob stored in object storage
type TechniqueImageModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TechniqueID uuid.UUID `gorm:"type:uuid;not null;index"`
	StorageKey  string    `gorm:"type:varchar(500);not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TechniqueImageModel) TableName() string {
	return "technique_images"
}

// ToDomain converts the persistence model to a domain TechniqueImage
func (m *TechniqueImageModel) ToDomain() *journal.TechniqueImage {
	return &journal.TechniqueImage{
		ID:          m.ID,
		TechniqueID: m.TechniqueID,
		StorageKey:  m.StorageKey,
		CreatedAt:   m.CreatedAt,
	}
}

// TechniqueImageModelFromDomain creates a new persistence model from a domain TechniqueImage
func TechniqueImageModelFromDomain(i *journal.TechniqueImage) *TechniqueImageModel {
	return &TechniqueImageModel{
		ID:          i.ID,
		TechniqueID: i.TechniqueID,
		StorageKey:  i.StorageKey,
		CreatedAt:   i.CreatedAt,
	}
}

// PlanTechniqueModel associates a technique with a plan
type PlanTechniqueModel struct {
	PlanID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	TechniqueID uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PlanTechniqueModel) TableName() string {
	return "plan_techniques"
}

// TradeModel is the persistence model for journal trades
type TradeModel struct {
	BaseModel
	UserID     uuid.UUID        `gorm:"type:uuid;not null;index"`
	PlanID     *uuid.UUID       `gorm:"type:uuid;index"`
	Symbol     string           `gorm:"type:varchar(32);not null"`
	Side       string           `gorm:"type:varchar(10);not null"`
	Quantity   decimal.Decimal  `gorm:"type:decimal(20,8);not null"`
	EntryPrice decimal.Decimal  `gorm:"type:decimal(20,8);not null"`
	ExitPrice  *decimal.Decimal `gorm:"type:decimal(20,8)"`
}

// TableName returns the table name for GORM
func (TradeModel) TableName() string {
	return "trades"
}

// ToDomain converts the persistence model to a domain Trade
func (m *TradeModel) ToDomain() *journal.Trade {
	return &journal.Trade{
		BaseEntity: m.BaseModel.ToDomain(),
		UserID:     m.UserID,
		PlanID:     m.PlanID,
		Symbol:     m.Symbol,
		Side:       journal.TradeSide(m.Side),
		Quantity:   m.Quantity,
		EntryPrice: m.EntryPrice,
		ExitPrice:  m.ExitPrice,
	}
}

// TradeModelFromDomain creates a new persistence model from a domain Trade
func TradeModelFromDomain(t *journal.Trade) *TradeModel {
	m := &TradeModel{
		UserID:     t.UserID,
		PlanID:     t.PlanID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
	}
	m.FromDomainBaseEntity(t.BaseEntity)
	return m
}

// PendingImageDeletionModel is a blob delete that must happen after the
// projection delete commits
type PendingImageDeletionModel struct {
	StorageKey    string    `gorm:"type:varchar(500);primaryKey"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Attempts      int       `gorm:"not null;default:0"`
	LastError     string    `gorm:"type:text"`
	NextAttemptAt time.Time `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (PendingImageDeletionModel) TableName() string {
	return "pending_image_deletions"
}

// ToDomain converts the persistence model to a domain PendingImageDeletion
func (m *PendingImageDeletionModel) ToDomain() *journal.PendingImageDeletion {
	return &journal.PendingImageDeletion{
		StorageKey:    m.StorageKey,
		UserID:        m.UserID,
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		NextAttemptAt: m.NextAttemptAt,
		CreatedAt:     m.CreatedAt,
	}
}

// IdentityModels lists the tables owned by the identity service
func IdentityModels() []any {
	return []any{&UserModel{}, &OutboxRecordModel{}}
}

// JournalModels lists the tables owned by the journal service
func JournalModels() []any {
	return []any{
		&InboxMessageModel{},
		&DeadLetterModel{},
		&UserProjectionModel{},
		&UserTombstoneModel{},
		&PlanModel{},
		&TechniqueModel{},
		&TechniqueImageModel{},
		&PlanTechniqueModel{},
		&TradeModel{},
		&PendingImageDeletionModel{},
	}
}
