package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/infrastructure/messaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTopology_QueueArgs(t *testing.T) {
	topo := Topology{
		Exchange:   "identity.events",
		Queue:      "journal.user-projection",
		RetryQueue: RetryQueueName("journal.user-projection"),
		RetryDelay: 10 * time.Second,
	}

	assert.Equal(t, "journal.user-projection.retry", topo.RetryQueue)
	assert.Equal(t, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": "journal.user-projection.retry",
	}, topo.workQueueArgs())
	assert.Equal(t, amqp.Table{
		"x-message-ttl":             int64(10000),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": "journal.user-projection",
	}, topo.retryQueueArgs())
}

func TestDeathCount(t *testing.T) {
	queue := "journal.user-projection"

	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no header", amqp.Table{}, 0},
		{"wrong type", amqp.Table{"x-death": "3"}, 0},
		{
			"counts rejections from the work queue only",
			amqp.Table{"x-death": []interface{}{
				amqp.Table{"queue": queue + ".retry", "reason": "expired", "count": int64(4)},
				amqp.Table{"queue": queue, "reason": "rejected", "count": int64(3)},
			}},
			3,
		},
		{
			"other queue is ignored",
			amqp.Table{"x-death": []interface{}{
				amqp.Table{"queue": "other", "reason": "rejected", "count": int64(9)},
			}},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deathCount(tt.headers, queue))
		})
	}
}

func TestToPublishing_PropagatesTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	msg := messaging.Message{
		ID:         uuid.New(),
		Type:       "UserCreated",
		RoutingKey: "UserCreated",
		Body:       []byte(`{"id":"x"}`),
		Headers:    map[string]string{"source": "identity"},
	}
	pub := toPublishing(ctx, msg)

	assert.Equal(t, msg.ID.String(), pub.MessageId)
	assert.Equal(t, "UserCreated", pub.Type)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "identity", pub.Headers["source"])
	require.Contains(t, pub.Headers, "traceparent")

	extracted := extractTrace(context.Background(), pub.Headers)
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestToDelivery(t *testing.T) {
	id := uuid.New()
	d := amqp.Delivery{
		MessageId:   id.String(),
		Type:        "UserDeleted",
		RoutingKey:  "UserDeleted",
		Body:        []byte(`{}`),
		Redelivered: true,
		Headers: amqp.Table{
			"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			"x-death": []interface{}{
				amqp.Table{"queue": "q", "reason": "rejected", "count": int64(2)},
			},
		},
	}

	got := toDelivery(d, "q")
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "UserDeleted", got.Type)
	assert.True(t, got.Redelivered)
	assert.Equal(t, 2, got.DeathCount)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", got.Headers["traceparent"])
	assert.NotContains(t, got.Headers, "x-death")

	bad := toDelivery(amqp.Delivery{MessageId: "not-a-uuid"}, "q")
	assert.Equal(t, uuid.Nil, bad.ID)
}

func TestAwaitStop(t *testing.T) {
	type signals struct {
		connClosed  chan *amqp.Error
		chClosed    chan *amqp.Error
		cancelled   chan string
		workersDone chan struct{}
	}

	tests := []struct {
		name    string
		fire    func(s signals, cancel context.CancelFunc)
		want    string
		wantErr error
	}{
		{"context cancelled", func(_ signals, cancel context.CancelFunc) { cancel() }, "", context.Canceled},
		{"connection closed", func(s signals, _ context.CancelFunc) {
			s.connClosed <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "shutdown"}
		}, "connection closed", nil},
		{"channel closed by broker", func(s signals, _ context.CancelFunc) {
			s.chClosed <- &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED"}
		}, "channel closed", nil},
		{"channel notifications closed", func(s signals, _ context.CancelFunc) { close(s.chClosed) }, "channel closed", nil},
		{"consumer cancelled", func(s signals, _ context.CancelFunc) { s.cancelled <- "journal.user-projection.a" }, "cancelled by broker", nil},
		{"workers exited", func(s signals, _ context.CancelFunc) { close(s.workersDone) }, "", errDeliveriesClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := signals{
				connClosed:  make(chan *amqp.Error, 1),
				chClosed:    make(chan *amqp.Error, 1),
				cancelled:   make(chan string, 1),
				workersDone: make(chan struct{}),
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tt.fire(s, cancel)

			errc := make(chan error, 1)
			go func() { errc <- awaitStop(ctx, s.connClosed, s.chClosed, s.cancelled, s.workersDone) }()

			select {
			case err := <-errc:
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.Contains(t, err.Error(), tt.want)
				}
			case <-time.After(time.Second):
				t.Fatal("awaitStop did not return")
			}
		})
	}
}

func TestSettle(t *testing.T) {
	msg := messaging.Message{ID: uuid.New(), RoutingKey: "UserCreated"}

	t.Run("acked without return", func(t *testing.T) {
		returns := make(chan amqp.Return, 4)
		assert.NoError(t, settle(msg, true, returns))
	})

	t.Run("nacked", func(t *testing.T) {
		assert.ErrorIs(t, settle(msg, false, nil), ErrNacked)
	})

	t.Run("acked but returned is unroutable", func(t *testing.T) {
		returns := make(chan amqp.Return, 4)
		returns <- amqp.Return{
			MessageId:  msg.ID.String(),
			Exchange:   "identity.events",
			RoutingKey: "UserCreated",
			ReplyCode:  amqp.NoRoute,
			ReplyText:  "NO_ROUTE",
		}

		err := settle(msg, true, returns)
		require.ErrorIs(t, err, messaging.ErrUnroutable)
		assert.Contains(t, err.Error(), "NO_ROUTE")
		assert.Empty(t, returns, "the return is consumed")
	})

	t.Run("stale returns of other messages are dropped", func(t *testing.T) {
		returns := make(chan amqp.Return, 4)
		returns <- amqp.Return{MessageId: uuid.NewString(), ReplyCode: amqp.NoRoute}
		returns <- amqp.Return{MessageId: uuid.NewString(), ReplyCode: amqp.NoRoute}

		assert.NoError(t, settle(msg, true, returns))
		assert.Empty(t, returns)
	})

	t.Run("closed returns channel", func(t *testing.T) {
		returns := make(chan amqp.Return)
		close(returns)
		assert.NoError(t, settle(msg, true, returns))
	})
}
