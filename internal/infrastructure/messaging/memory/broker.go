// Package memory provides an in-process broker with the same delivery
// semantics as the RabbitMQ topology: at-least-once, retry after a delay,
// death counting. It backs tests and single-process development runs.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tradejournal/backend/internal/infrastructure/messaging"
)

// ErrClosed is returned by Publish after Close
var ErrClosed = errors.New("memory broker closed")

// Broker is an in-memory Publisher and Subscriber
type Broker struct {
	mu          sync.Mutex
	queue       chan messaging.Delivery
	published   []messaging.Message
	publishHook func(messaging.Message) error
	retryDelay  time.Duration
	concurrency int
	closed      bool
	pending     sync.WaitGroup
}

// Option configures a Broker
type Option func(*Broker)

// WithRetryDelay sets how long a retried delivery waits before redelivery
func WithRetryDelay(d time.Duration) Option {
	return func(b *Broker) {
		b.retryDelay = d
	}
}

// WithConcurrency sets the number of handler goroutines per subscription
func WithConcurrency(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithPublishHook runs fn before a message is accepted. A non-nil error
// rejects the publish, simulating a broker nack.
func WithPublishHook(fn func(messaging.Message) error) Option {
	return func(b *Broker) {
		b.publishHook = fn
	}
}

// NewBroker creates an in-memory broker
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		queue:       make(chan messaging.Delivery, 1024),
		retryDelay:  10 * time.Millisecond,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetPublishHook replaces the publish hook
func (b *Broker) SetPublishHook(fn func(messaging.Message) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishHook = fn
}

// Publish enqueues a message
func (b *Broker) Publish(ctx context.Context, msg messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	hook := b.publishHook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(msg); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.published = append(b.published, msg)
	b.mu.Unlock()

	return b.Inject(ctx, messaging.Delivery{Message: msg})
}

// Inject places a delivery on the queue without recording it as published.
// Tests use it to simulate duplicates, reordering and poison messages.
func (b *Broker) Inject(ctx context.Context, d messaging.Delivery) error {
	select {
	case b.queue <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Published returns a copy of every accepted message in publish order
func (b *Broker) Published() []messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]messaging.Message, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribe runs the handler on queued deliveries until ctx is cancelled
func (b *Broker) Subscribe(ctx context.Context, handler messaging.Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < b.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-b.queue:
					if handler(ctx, d) == messaging.Retry {
						b.scheduleRetry(d)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (b *Broker) scheduleRetry(d messaging.Delivery) {
	d.DeathCount++
	d.Redelivered = true
	b.pending.Add(1)
	time.AfterFunc(b.retryDelay, func() {
		defer b.pending.Done()
		b.queue <- d
	})
}

// Close rejects further publishes and waits for scheduled retries to land
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.pending.Wait()
}

var (
	_ messaging.Publisher  = (*Broker)(nil)
	_ messaging.Subscriber = (*Broker)(nil)
)
