package event

import (
	"fmt"

	"pattern-analysis-service/internal/config"

	"github.com/rabbitmq/amqp091-go"
)

// topologyChannel is the part of *amqp091.Channel used to declare queues.
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

func retryQueueName(queue string) string   { return queue + ".retry" }
func parkingQueueName(queue string) string { return queue + ".parked" }

// declareTopology sets up the inbound queue with a delayed retry loop and a
// parking queue:
//
//	inbound exchange -> queue --nack--> retry exchange -> retry queue
//	retry queue --ttl expiry--> default exchange -> queue
//	queue --park--> parking exchange -> parking queue
func declareTopology(ch topologyChannel, cfg config.RabbitMQConfig) error {
	for _, exchange := range []string{cfg.InboundExchange, cfg.RetryExchange, cfg.ParkingExchange} {
		err := ch.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	queues := []struct {
		name     string
		args     amqp091.Table
		exchange string
		key      string
	}{
		{
			name: cfg.QueueName,
			args: amqp091.Table{
				"x-dead-letter-exchange": cfg.RetryExchange,
			},
			exchange: cfg.InboundExchange,
			key:      cfg.InboundRoutingKey,
		},
		{
			name: retryQueueName(cfg.QueueName),
			args: amqp091.Table{
				"x-message-ttl":             cfg.RetryDelay.Milliseconds(),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": cfg.QueueName,
			},
			exchange: cfg.RetryExchange,
			key:      "#",
		},
		{
			name:     parkingQueueName(cfg.QueueName),
			exchange: cfg.ParkingExchange,
			key:      "#",
		},
	}

	for _, q := range queues {
		queue, err := ch.QueueDeclare(
			q.name, // name
			true,   // durable
			false,  // delete when unused
			false,  // exclusive
			false,  // no-wait
			q.args, // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}

		if err := ch.QueueBind(queue.Name, q.key, q.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}

	return nil
}

// deathCount is how many times queue has already rejected this message,
// read from the broker-maintained x-death header.
func deathCount(headers amqp091.Table, queue string) int64 {
	deaths, ok := headers[headerDeath].([]any)
	if !ok {
		return 0
	}

	var count int64
	for _, entry := range deaths {
		death, ok := entry.(amqp091.Table)
		if !ok {
			continue
		}
		if death["queue"] != queue || death["reason"] != "rejected" {
			continue
		}
		if n, ok := death["count"].(int64); ok {
			count += n
		}
	}
	return count
}
