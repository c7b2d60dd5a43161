package event

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradejournal/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// RecordOutboxEvent appends one identity fact to the outbox using the caller's
// transaction. The record commits or rolls back together with the business
// mutation; nothing is sent to the broker here. version is the user's
// aggregate version after the mutation.
func RecordOutboxEvent(ctx context.Context, tx *gorm.DB, kind shared.FactKind, userID uuid.UUID, userName *string, version int64) error {
	if !inTransaction(tx) {
		return shared.ErrNoTransaction
	}

	env, err := shared.NewUserEnvelope(kind, userID, userName, version, time.Now())
	if err != nil {
		return err
	}

	if err := NewGormOutboxRepository(tx).Save(ctx, shared.NewOutboxRecord(env, userID, version)); err != nil {
		return fmt.Errorf("record %s outbox event: %w", env.Type(), err)
	}
	return nil
}

// inTransaction reports whether db is bound to an open transaction
func inTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}
