// Package messaging defines the broker-neutral contracts used by the outbox
// relay and the inbox consumer.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message is one identity fact on its way through the broker
type Message struct {
	ID         uuid.UUID
	Type       string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
	Timestamp  time.Time
}

// ErrUnroutable is returned by Publish when the broker accepted a message
// that no queue was bound to receive. The message was not stored.
var ErrUnroutable = errors.New("messaging: message not routed to any queue")

// Publisher hands messages to the broker. Publish returns only after the
// broker has confirmed the message into at least one queue, or with the
// reason it could not.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Disposition tells the broker what to do with a delivery once handled
type Disposition int

const (
	// Ack removes the delivery from the queue.
	Ack Disposition = iota
	// Retry schedules the delivery for redelivery after the retry interval.
	Retry
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Delivery is a message received from a queue
type Delivery struct {
	Message
	// Redelivered is set when the broker has handed this delivery out before.
	Redelivered bool
	// DeathCount is how many times the delivery has been sent to the retry queue.
	DeathCount int
}

// Handler processes one delivery. The context carries the trace context
// propagated from the publisher.
type Handler func(ctx context.Context, d Delivery) Disposition

// Subscriber delivers queued messages to a handler until ctx is cancelled
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}
