package event

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"pattern-analysis-service/internal/config"
	"pattern-analysis-service/internal/models"
	"pattern-analysis-service/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var deliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pattern_analysis_deliveries_total",
		Help: "Completion signal deliveries by how they were settled",
	},
	[]string{"result"}, // ack, drop, park, retry
)

type SignalProcessor interface {
	Process(ctx context.Context, signal models.CompletionSignal) (*pipeline.Run, error)
}

type Consumer interface {
	Start() error
	Healthy() bool
	Close() error
}

// consumeChannel is the part of *amqp091.Channel the consumer uses.
type consumeChannel interface {
	publishChannel
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// consumerDialer opens a channel with the topology declared.
type consumerDialer func() (consumeChannel, io.Closer, error)

type EventConsumer struct {
	dial        consumerDialer
	processor   SignalProcessor
	cfg         config.RabbitMQConfig
	workers     int
	consumerTag string
	enabled     bool
	minBackoff  time.Duration
	maxBackoff  time.Duration

	mu      sync.Mutex
	channel consumeChannel
	conn    io.Closer

	shutdown chan struct{}
	group    errgroup.Group
	running  atomic.Bool
}

func NewEventConsumer(cfg config.RabbitMQConfig, workers int, processor SignalProcessor) (*EventConsumer, error) {
	if cfg.URI == "" {
		log.Warn().Msg("RabbitMQ URI is empty, event consumption is disabled")
		return &EventConsumer{
			enabled: false,
		}, nil
	}
	if workers < 1 {
		workers = 1
	}

	c := &EventConsumer{
		dial: func() (consumeChannel, io.Closer, error) {
			return dialConsumer(cfg)
		},
		processor:   processor,
		cfg:         cfg,
		workers:     workers,
		consumerTag: fmt.Sprintf("pattern-analysis-%d", time.Now().UnixNano()),
		enabled:     true,
		minBackoff:  reconnectMinBackoff,
		maxBackoff:  reconnectMaxBackoff,
		shutdown:    make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func dialConsumer(cfg config.RabbitMQConfig) (consumeChannel, io.Closer, error) {
	conn, channel, err := dialChannel(cfg.URI)
	if err != nil {
		return nil, nil, err
	}
	if err := declareTopology(channel, cfg); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, err
	}
	return channel, conn, nil
}

// connect replaces the current connection with a fresh one.
func (c *EventConsumer) connect() error {
	channel, conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.channel, c.conn = channel, conn
	c.mu.Unlock()

	if old != nil {
		// usually already closed by the broker
		_ = old.Close()
	}
	return nil
}

func (c *EventConsumer) currentChannel() consumeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// subscribe sets prefetch to the number of workers, so no delivery waits
// behind a busy worker, and registers the consumer.
func (c *EventConsumer) subscribe() (<-chan amqp091.Delivery, error) {
	channel := c.currentChannel()

	err := channel.Qos(
		c.workers, // prefetch count
		0,         // prefetch size
		false,     // global
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := channel.Consume(
		c.cfg.QueueName, // queue
		c.consumerTag,   // consumer
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}
	return msgs, nil
}

// Start registers the consumer and launches the worker pool. When the broker
// drops the connection the pool is restarted on a new one.
func (c *EventConsumer) Start() error {
	if !c.enabled {
		log.Info().Msg("Event consumption is disabled")
		return nil
	}

	msgs, err := c.subscribe()
	if err != nil {
		return err
	}

	c.running.Store(true)
	c.group.Go(func() error {
		c.supervise(msgs)
		return nil
	})

	log.Info().
		Str("queue", c.cfg.QueueName).
		Int("workers", c.workers).
		Msg("Event consumer started, waiting for messages...")
	return nil
}

// Healthy reports whether deliveries are being consumed. A disabled consumer
// is always healthy.
func (c *EventConsumer) Healthy() bool {
	return !c.enabled || c.running.Load()
}

func (c *EventConsumer) supervise(msgs <-chan amqp091.Delivery) {
	for {
		c.runWorkers(msgs)
		c.running.Store(false)

		select {
		case <-c.shutdown:
			return
		default:
		}

		log.Warn().Msg("RabbitMQ delivery channel closed, attempting to reconnect...")
		next, ok := c.reconnect()
		if !ok {
			return
		}
		msgs = next
		c.running.Store(true)
		log.Info().Str("queue", c.cfg.QueueName).Msg("Reconnected to RabbitMQ, consuming again")
	}
}

// runWorkers blocks until msgs is closed or shutdown starts.
func (c *EventConsumer) runWorkers(msgs <-chan amqp091.Delivery) {
	var workers errgroup.Group
	for i := 0; i < c.workers; i++ {
		workers.Go(func() error {
			c.consume(msgs)
			return nil
		})
	}
	_ = workers.Wait()
}

// reconnect retries with exponential backoff until it is consuming again or
// shutdown starts.
func (c *EventConsumer) reconnect() (<-chan amqp091.Delivery, bool) {
	backoff := c.minBackoff
	for {
		select {
		case <-c.shutdown:
			return nil, false
		case <-time.After(backoff):
		}

		err := c.connect()
		if err == nil {
			msgs, subErr := c.subscribe()
			if subErr == nil {
				return msgs, true
			}
			err = subErr
		}

		backoff = nextBackoff(backoff, c.maxBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("Failed to reconnect to RabbitMQ")
	}
}

func (c *EventConsumer) consume(msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-c.shutdown:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handleDelivery(msg)
		}
	}
}

// handleDelivery runs the pipeline for one message and settles it. It
// returns how the message was settled: ack, drop, park or retry. A run is
// never interrupted by shutdown.
func (c *EventConsumer) handleDelivery(msg amqp091.Delivery) string {
	signal, err := decodeSignal(msg.Body)
	if err == nil {
		_, err = c.processor.Process(context.Background(), signal)
	}
	if err == nil {
		deliveriesTotal.WithLabelValues("ack").Inc()
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Msg("Error ACKing message")
		}
		return "ack"
	}

	disposition := pipeline.Classify(err)
	attempt := deathCount(msg.Headers, c.cfg.QueueName) + 1
	if disposition == pipeline.Retry && c.cfg.MaxAttempts > 0 && attempt >= int64(c.cfg.MaxAttempts) {
		log.Warn().Int64("attempt", attempt).Str("session_id", signal.SessionID).Msg("Retries exhausted, parking message")
		disposition = pipeline.Park
	}

	logger := log.With().
		Str("session_id", signal.SessionID).
		Str("user_id", signal.UserID).
		Int64("attempt", attempt).
		Str("disposition", disposition.String()).
		Logger()

	switch disposition {
	case pipeline.Drop:
		logger.Info().Err(err).Msg("Dropping completion signal")
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error().Err(ackErr).Msg("Error ACKing message")
		}
	case pipeline.Park:
		if parkErr := c.park(msg, err, attempt); parkErr != nil {
			// the retry loop brings it back and parking is tried again
			logger.Error().Err(parkErr).Msg("Failed to park message, sending to retry")
			disposition = pipeline.Retry
			if nackErr := msg.Nack(false, false); nackErr != nil {
				logger.Error().Err(nackErr).Msg("Error NACKing message")
			}
			break
		}
		logger.Warn().Err(err).Msg("Parked completion signal")
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error().Err(ackErr).Msg("Error ACKing message")
		}
	default:
		logger.Warn().Err(err).Dur("retry_in", c.cfg.RetryDelay).Msg("Completion signal failed, scheduling retry")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error().Err(nackErr).Msg("Error NACKing message")
		}
	}

	deliveriesTotal.WithLabelValues(disposition.String()).Inc()
	return disposition.String()
}

func decodeSignal(body []byte) (models.CompletionSignal, error) {
	var signal models.CompletionSignal
	if err := json.Unmarshal(body, &signal); err != nil {
		return signal, &pipeline.InvalidSignalError{Reason: "undecodable body", Err: err}
	}
	return signal, nil
}

func (c *EventConsumer) park(msg amqp091.Delivery, cause error, attempt int64) error {
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderParkReason] = cause.Error()
	headers[HeaderParkAttempts] = attempt

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.currentChannel().PublishWithContext(
		ctx,
		c.cfg.ParkingExchange, // exchange
		msg.RoutingKey,        // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         msg.Body,
		},
	)
}

// Close stops taking deliveries and waits for in-flight runs.
func (c *EventConsumer) Close() error {
	if !c.enabled {
		return nil
	}

	close(c.shutdown)
	if c.running.Load() {
		if err := c.currentChannel().Cancel(c.consumerTag, false); err != nil {
			log.Warn().Err(err).Msg("Error cancelling consumer")
		}
	}
	c.group.Wait()

	c.mu.Lock()
	channel, conn := c.channel, c.conn
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
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
