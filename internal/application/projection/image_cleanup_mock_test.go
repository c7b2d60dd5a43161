package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tradejournal/backend/internal/domain/journal"
	"go.uber.org/zap"
)

type mockPendingRepo struct {
	mock.Mock
}

func (m *mockPendingRepo) Save(ctx context.Context, deletions ...*journal.PendingImageDeletion) error {
	return m.Called(ctx, deletions).Error(0)
}

func (m *mockPendingRepo) Remove(ctx context.Context, storageKey string) error {
	return m.Called(ctx, storageKey).Error(0)
}

func (m *mockPendingRepo) RecordFailure(ctx context.Context, storageKey string, errMsg string, nextAttemptAt time.Time) error {
	return m.Called(ctx, storageKey, errMsg, nextAttemptAt).Error(0)
}

func (m *mockPendingRepo) FindDue(ctx context.Context, limit int) ([]*journal.PendingImageDeletion, error) {
	args := m.Called(ctx, limit)
	due, _ := args.Get(0).([]*journal.PendingImageDeletion)
	return due, args.Error(1)
}

type mockImageStore struct {
	mock.Mock
}

func (m *mockImageStore) Delete(ctx context.Context, storageKey string) error {
	return m.Called(ctx, storageKey).Error(0)
}

func (m *mockImageStore) Exists(ctx context.Context, storageKey string) (bool, error) {
	args := m.Called(ctx, storageKey)
	return args.Bool(0), args.Error(1)
}

func TestImageCleanup_SweepRecordsFailuresAndClearsSuccesses(t *testing.T) {
	pending := new(mockPendingRepo)
	store := new(mockImageStore)
	userID := uuid.New()

	pending.On("FindDue", mock.Anything, 2).Return([]*journal.PendingImageDeletion{
		{StorageKey: "techniques/a.png", UserID: userID},
		{StorageKey: "techniques/b.png", UserID: userID, Attempts: 3},
	}, nil)
	store.On("Delete", mock.Anything, "techniques/a.png").Return(nil)
	store.On("Delete", mock.Anything, "techniques/b.png").Return(errors.New("503 slow down"))
	pending.On("Remove", mock.Anything, "techniques/a.png").Return(nil)
	// Fourth failure: base 1m doubled three times.
	backedOff := mock.MatchedBy(func(next time.Time) bool {
		wait := time.Until(next)
		return wait > 7*time.Minute && wait <= 8*time.Minute
	})
	pending.On("RecordFailure", mock.Anything, "techniques/b.png", "503 slow down", backedOff).Return(nil)

	cleanup := NewImageCleanup(pending, store, ImageCleanupConfig{SweepBatchSize: 2}, zap.NewNop())

	assert.Equal(t, 1, cleanup.Sweep(context.Background()))
	pending.AssertExpectations(t)
	store.AssertExpectations(t)
	pending.AssertNotCalled(t, "Remove", mock.Anything, "techniques/b.png")
}

func TestImageCleanup_SweepToleratesLoadFailure(t *testing.T) {
	pending := new(mockPendingRepo)
	store := new(mockImageStore)
	pending.On("FindDue", mock.Anything, 100).Return(nil, errors.New("connection reset"))

	cleanup := NewImageCleanup(pending, store, ImageCleanupConfig{}, zap.NewNop())

	assert.Equal(t, 0, cleanup.Sweep(context.Background()))
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestImageCleanup_ReleaseKeepsGoingWhenRemoveFails(t *testing.T) {
	pending := new(mockPendingRepo)
	store := new(mockImageStore)
	store.On("Delete", mock.Anything, mock.Anything).Return(nil)
	pending.On("Remove", mock.Anything, "k1").Return(errors.New("deadlock detected"))
	pending.On("Remove", mock.Anything, "k2").Return(nil)

	cleanup := NewImageCleanup(pending, store, ImageCleanupConfig{}, zap.NewNop())
	cleanup.Release(context.Background(), []string{"k1", "k2"})

	store.AssertNumberOfCalls(t, "Delete", 2)
	pending.AssertExpectations(t)
}
