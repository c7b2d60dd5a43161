package journal

import "github.com/google/uuid"

// ProjectionOutcome describes what applying an identity fact did locally
type ProjectionOutcome string

const (
	OutcomeApplied ProjectionOutcome = "applied"
	OutcomeIgnored ProjectionOutcome = "ignored"
)

// ProjectionResult is returned by a projection command
type ProjectionResult struct {
	UserID  uuid.UUID
	Outcome ProjectionOutcome
	// Anomaly names an out-of-order condition that the reorder policy absorbed.
	Anomaly string
	// ReleasedImageKeys are blobs whose rows were deleted in the same
	// transaction. They must be removed from storage after commit.
	ReleasedImageKeys []string
}

// HasAnomaly reports whether the fact arrived out of order
func (r *ProjectionResult) HasAnomaly() bool {
	return r != nil && r.Anomaly != ""
}
