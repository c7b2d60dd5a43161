// Package rabbitmq carries identity facts over RabbitMQ with publisher
// confirms, manual acknowledgements and a TTL retry queue.
package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology describes the exchange and queues one consumer needs.
//
// Rejected deliveries dead-letter from Queue into RetryQueue, wait there for
// RetryDelay and dead-letter back into Queue. RabbitMQ records every hop in
// the x-death header, which is how redeliveries are counted.
type Topology struct {
	Exchange    string
	Queue       string
	RetryQueue  string
	RoutingKeys []string
	RetryDelay  time.Duration
}

// RetryQueueName derives the retry queue for a work queue
func RetryQueueName(queue string) string {
	return queue + ".retry"
}

// declareExchange declares the durable topic exchange facts are published to
func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}

// workQueueArgs routes rejected deliveries to the retry queue
func (t Topology) workQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.RetryQueue,
	}
}

// retryQueueArgs expires deliveries back into the work queue
func (t Topology) retryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             t.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Queue,
	}
}

// Declare creates the exchange, both queues and the bindings
func (t Topology) Declare(ch *amqp.Channel) error {
	if err := declareExchange(ch, t.Exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.workQueueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if _, err := ch.QueueDeclare(t.RetryQueue, true, false, false, false, t.retryQueueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.RetryQueue, err)
	}
	for _, key := range t.RoutingKeys {
		if err := ch.QueueBind(t.Queue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s with %s: %w", t.Queue, t.Exchange, key, err)
		}
	}
	return nil
}
