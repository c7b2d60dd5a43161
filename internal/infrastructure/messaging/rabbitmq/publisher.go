package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tradejournal/backend/internal/infrastructure/messaging"
	"go.uber.org/zap"
)

// ErrNacked is returned when the broker refuses a published message
var ErrNacked = errors.New("rabbitmq: publish not confirmed by broker")

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
}

// Publisher publishes mandatory messages to a topic exchange on a
// confirm-mode channel. The connection is opened lazily and re-opened after
// any channel error.
type Publisher struct {
	cfg    PublisherConfig
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
}

// NewPublisher creates a Publisher. No connection is made until the first Publish.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// Publish sends msg and waits for the broker confirm. A message the broker
// returned as unroutable fails with messaging.ErrUnroutable even though it
// was confirmed.
func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		p.cfg.Exchange,
		msg.RoutingKey,
		true,  // mandatory
		false, // immediate
		toPublishing(ctx, msg),
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", msg.ID, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return fmt.Errorf("await confirm for %s: %w", msg.ID, err)
	}
	return settle(msg, acked, p.returns)
}

// settle turns a confirm into Publish's result. The broker sends basic.return
// before the ack of the same message and both are dispatched in order, so a
// return for msg is already buffered once the confirm has arrived.
func settle(msg messaging.Message, acked bool, returns <-chan amqp.Return) error {
	if ret, ok := returned(returns, msg.ID.String()); ok {
		return fmt.Errorf("%w: %s to %q/%q: %d %s",
			messaging.ErrUnroutable, msg.ID, ret.Exchange, ret.RoutingKey, ret.ReplyCode, ret.ReplyText)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNacked, msg.ID)
	}
	return nil
}

// returned drains every buffered return without blocking and reports the one
// for messageID, if any. Returns for earlier, abandoned publishes are dropped.
func returned(returns <-chan amqp.Return, messageID string) (amqp.Return, bool) {
	var (
		match amqp.Return
		found bool
	)
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return match, found
			}
			if ret.MessageId == messageID {
				match, found = ret, true
			}
		default:
			return match, found
		}
	}
}

// channel returns the open confirm channel, dialing if needed. Callers hold mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if err := declareExchange(ch, p.cfg.Exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.conn, p.ch = conn, ch
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 16))
	p.logger.Info("rabbitmq publisher connected", zap.String("exchange", p.cfg.Exchange))
	return ch, nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch, p.returns = nil, nil, nil
}

// Close closes the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// toPublishing builds a persistent JSON publishing carrying the trace context
func toPublishing(ctx context.Context, msg messaging.Message) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	injectTrace(ctx, headers)

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Timestamp:    ts,
		Type:         msg.Type,
		Body:         msg.Body,
	}
}

var _ messaging.Publisher = (*Publisher)(nil)
