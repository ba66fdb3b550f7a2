package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"pattern-analysis-service/internal/config"
	"pattern-analysis-service/internal/models"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// publishChannel is the part of *amqp091.Channel used to publish.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type Publisher interface {
	PublishAnalysisCompleted(ctx context.Context, outcome *models.CompletionOutcome) error
	Close() error
}

// publisherDialer opens a channel with the outbound exchange declared.
type publisherDialer func() (publishChannel, io.Closer, error)

type EventPublisher struct {
	dial         publisherDialer
	exchangeName string
	routingKey   string
	enabled      bool

	mu      sync.Mutex
	conn    io.Closer
	channel publishChannel
}

func NewEventPublisher(cfg config.RabbitMQConfig) (*EventPublisher, error) {
	if cfg.URI == "" {
		log.Warn().Msg("RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			enabled: false,
		}, nil
	}

	p := &EventPublisher{
		dial: func() (publishChannel, io.Closer, error) {
			return dialPublisher(cfg)
		},
		exchangeName: cfg.OutboundExchange,
		routingKey:   cfg.OutboundRoutingKey,
		enabled:      true,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialPublisher(cfg config.RabbitMQConfig) (publishChannel, io.Closer, error) {
	conn, channel, err := dialChannel(cfg.URI)
	if err != nil {
		return nil, nil, err
	}

	err = channel.ExchangeDeclare(
		cfg.OutboundExchange, // name
		"topic",              // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return channel, conn, nil
}

func (p *EventPublisher) connect() error {
	channel, conn, err := p.dial()
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.conn
	p.channel, p.conn = channel, conn
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (p *EventPublisher) currentChannel() publishChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// PublishAnalysisCompleted is fire-and-forget: the caller logs a failure and
// moves on.
func (p *EventPublisher) PublishAnalysisCompleted(ctx context.Context, outcome *models.CompletionOutcome) error {
	return p.publishEvent(ctx, p.routingKey, newPatternAnalysisCompletedEvent(outcome, time.Now()))
}

// publishEvent reconnects once when the channel or connection has been
// closed underneath it and publishes again.
func (p *EventPublisher) publishEvent(ctx context.Context, routingKey string, event any) error {
	if !p.enabled {
		log.Debug().Str("routing_key", routingKey).Msg("Event publishing is disabled, skipping event")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.publish(ctx, routingKey, body)
	if errors.Is(err, amqp091.ErrClosed) && p.dial != nil {
		log.Warn().Msg("RabbitMQ channel closed, reconnecting publisher...")
		if connErr := p.connect(); connErr != nil {
			return fmt.Errorf("failed to reconnect publisher: %w", connErr)
		}
		err = p.publish(ctx, routingKey, body)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("exchange", p.exchangeName).Str("routing_key", routingKey).Msg("Published event")
	return nil
}

func (p *EventPublisher) publish(ctx context.Context, routingKey string, body []byte) error {
	return p.currentChannel().PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}

	p.mu.Lock()
	channel, conn := p.channel, p.conn
	p.mu.Unlock()

	if closer, ok := channel.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("error closing RabbitMQ connection: %w", err)
		}
	}

	return nil
}
