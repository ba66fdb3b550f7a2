package event

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	reconnectMinBackoff = 1 * time.Second
	reconnectMaxBackoff = 30 * time.Second
)

// dialChannel opens a connection and one channel on it. The connection logs
// its close reason when the broker drops it.
func dialChannel(uri string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		// closed without a value on a clean Close
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			log.Warn().
				Int("code", amqpErr.Code).
				Str("reason", amqpErr.Reason).
				Msg("RabbitMQ connection closed")
		}
	}()

	return conn, channel, nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
