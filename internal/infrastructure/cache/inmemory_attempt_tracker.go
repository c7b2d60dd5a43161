package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tradejournal/backend/internal/domain/shared"
)

// counter is a delivery count with expiration
type counter struct {
	count     int64
	expiresAt time.Time
}

// InMemoryAttemptTracker implements AttemptTracker using an in-memory map.
// Counts are local to the process, so it suits single-instance deployments
// and tests.
type InMemoryAttemptTracker struct {
	mu        sync.Mutex
	counters  map[string]counter
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryAttemptTracker creates a new in-memory attempt tracker.
// It starts a background goroutine to drop expired counters.
func NewInMemoryAttemptTracker() *InMemoryAttemptTracker {
	t := &InMemoryAttemptTracker{
		counters: make(map[string]counter),
		stopChan: make(chan struct{}),
	}

	t.wg.Add(1)
	go t.cleanupLoop()

	return t
}

// Increment records one more delivery of key and returns the total
func (t *InMemoryAttemptTracker) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	c, exists := t.counters[key]
	if !exists || !now.Before(c.expiresAt) {
		c = counter{}
	}
	c.count++
	c.expiresAt = now.Add(ttl)
	t.counters[key] = c

	return c.count, nil
}

// Reset forgets key
func (t *InMemoryAttemptTracker) Reset(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (t *InMemoryAttemptTracker) Close() error {
	t.closeOnce.Do(func() {
		close(t.stopChan)
		t.wg.Wait()
	})
	return nil
}

func (t *InMemoryAttemptTracker) cleanupLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

// cleanup removes expired counters
func (t *InMemoryAttemptTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, c := range t.counters {
		if !now.Before(c.expiresAt) {
			delete(t.counters, key)
		}
	}
}

// Size returns the number of live counters (for testing/monitoring)
func (t *InMemoryAttemptTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}

var _ shared.AttemptTracker = (*InMemoryAttemptTracker)(nil)
