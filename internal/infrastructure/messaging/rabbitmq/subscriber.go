package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tradejournal/backend/internal/infrastructure/messaging"
	"go.uber.org/zap"
)

// SubscriberConfig holds subscriber configuration
type SubscriberConfig struct {
	URL            string
	Topology       Topology
	ConsumerTag    string
	Concurrency    int
	Prefetch       int
	ReconnectDelay time.Duration
}

// Subscriber consumes a work queue with manual acknowledgements and a
// fixed pool of handler goroutines.
type Subscriber struct {
	cfg    SubscriberConfig
	logger *zap.Logger
}

// NewSubscriber creates a Subscriber
func NewSubscriber(cfg SubscriberConfig, logger *zap.Logger) *Subscriber {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Concurrency * 2
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Subscriber{cfg: cfg, logger: logger}
}

// Subscribe consumes until ctx is cancelled, reconnecting after failures
func (s *Subscriber) Subscribe(ctx context.Context, handler messaging.Handler) error {
	for {
		err := s.consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("rabbitmq consumer interrupted, reconnecting",
			zap.String("queue", s.cfg.Topology.Queue),
			zap.Duration("delay", s.cfg.ReconnectDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, handler messaging.Handler) error {
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := s.cfg.Topology.Declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		s.cfg.Topology.Queue,
		s.cfg.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.cfg.Topology.Queue, err)
	}
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancelled := ch.NotifyCancel(make(chan string, 1))

	s.logger.Info("rabbitmq consumer started",
		zap.String("queue", s.cfg.Topology.Queue),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Int("prefetch", s.cfg.Prefetch),
	)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					s.handle(ctx, handler, d)
				}
			}
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	err = awaitStop(ctx, connClosed, chClosed, cancelled, workersDone)
	<-workersDone
	return err
}

// errDeliveriesClosed is returned when every worker exited because the
// delivery channel closed without a close or cancel notification.
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// awaitStop blocks until the consumer can no longer receive deliveries and
// reports why. The connection and the channel can each close on their own,
// and the broker cancels the consumer when its queue is deleted. Any of them
// ends this consumer so Subscribe can reconnect.
func awaitStop(
	ctx context.Context,
	connClosed <-chan *amqp.Error,
	chClosed <-chan *amqp.Error,
	cancelled <-chan string,
	workersDone <-chan struct{},
) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case amqpErr, ok := <-connClosed:
		if !ok || amqpErr == nil {
			return errors.New("rabbitmq connection closed")
		}
		return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
	case amqpErr, ok := <-chClosed:
		if !ok || amqpErr == nil {
			return errors.New("rabbitmq channel closed")
		}
		return fmt.Errorf("rabbitmq channel closed: %w", amqpErr)
	case tag, ok := <-cancelled:
		if !ok {
			return errors.New("rabbitmq channel closed")
		}
		return fmt.Errorf("rabbitmq consumer %q cancelled by broker", tag)
	case <-workersDone:
		return errDeliveriesClosed
	}
}

func (s *Subscriber) handle(ctx context.Context, handler messaging.Handler, d amqp.Delivery) {
	dctx := extractTrace(ctx, d.Headers)
	disposition := handler(dctx, toDelivery(d, s.cfg.Topology.Queue))

	var err error
	switch disposition {
	case messaging.Ack:
		err = d.Ack(false)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		s.logger.Error("failed to settle delivery",
			zap.String("message_id", d.MessageId),
			zap.Stringer("disposition", disposition),
			zap.Error(err),
		)
	}
}

// toDelivery converts an AMQP delivery. An unparsable message id becomes uuid.Nil
// and is dealt with by the handler.
func toDelivery(d amqp.Delivery, queue string) messaging.Delivery {
	id, _ := uuid.Parse(d.MessageId)
	return messaging.Delivery{
		Message: messaging.Message{
			ID:         id,
			Type:       d.Type,
			RoutingKey: d.RoutingKey,
			Body:       d.Body,
			Headers:    stringHeaders(d.Headers),
			Timestamp:  d.Timestamp,
		},
		Redelivered: d.Redelivered,
		DeathCount:  deathCount(d.Headers, queue),
	}
}

var _ messaging.Subscriber = (*Subscriber)(nil)
