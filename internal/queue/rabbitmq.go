package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// amqpChannel abstracts the AMQP channel operations used by the backend,
// satisfied by *amqp.Channel and mockable in tests.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// amqpConnection abstracts the AMQP connection for testability.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

// realAMQPConnection adapts *amqp.Connection to amqpConnection.
type realAMQPConnection struct {
	conn *amqp.Connection
}

func (c *realAMQPConnection) Channel() (amqpChannel, error) {
	return c.conn.Channel()
}

func (c *realAMQPConnection) Close() error {
	return c.conn.Close()
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realAMQPConnection{conn: conn}, nil
}

// RabbitMQBackend delivers messages through a RabbitMQ broker. It holds at
// most one connection and one channel for the whole process, established
// lazily on the first publish or subscribe and shared by every subsequent
// call. There is no reconnection: a dropped connection leaves the backend
// degraded until restart, though a failed establishment attempt may be
// retried by the next call.
type RabbitMQBackend struct {
	url  string
	dial func(url string) (amqpConnection, error)
	log  zerolog.Logger

	// mu guards lazy establishment so concurrent first calls share one
	// dial instead of racing to create duplicate connections.
	mu   sync.Mutex
	conn amqpConnection
	ch   amqpChannel
}

// NewRabbitMQBackend creates a RabbitMQBackend from the queue
// configuration. No connection is made until first use.
func NewRabbitMQBackend(cfg Config, log zerolog.Logger) *RabbitMQBackend {
	return &RabbitMQBackend{
		url:  amqpURL(cfg),
		dial: dialAMQP,
		log:  log.With().Str("backend", "rabbitmq").Logger(),
	}
}

// amqpURL returns the configured connection URL, assembling one from the
// discrete host/port/credential fields when no full URL is set. Credentials
// default to the guest/guest placeholder.
func amqpURL(cfg Config) string {
	if cfg.RabbitMQURL != "" {
		return cfg.RabbitMQURL
	}
	host := cfg.RabbitMQHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.RabbitMQPort
	if port == 0 {
		port = 5672
	}
	user := cfg.RabbitMQUsername
	if user == "" {
		user = "guest"
	}
	pass := cfg.RabbitMQPassword
	if pass == "" {
		pass = "guest"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d", user, pass, host, port)
}

// channel returns the shared channel, establishing connection and channel
// on first use. The lock makes establishment single-flight; on failure
// nothing is stored, so the backend stays unconnected.
func (b *RabbitMQBackend) channel() (amqpChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch != nil {
		return b.ch, nil
	}

	conn, err := b.dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	b.conn = conn
	b.ch = ch
	b.log.Info().Msg("amqp connection established")

	return ch, nil
}

// Publish declares the named queue as durable (a no-op when it already
// exists with matching properties), JSON-serializes the payload, and sends
// it marked persistent.
func (b *RabbitMQBackend) Publish(ctx context.Context, queueName string, payload any) error {
	ch, err := b.channel()
	if err != nil {
		return &DeliveryError{Queue: queueName, Err: err}
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return &DeliveryError{Queue: queueName, Err: fmt.Errorf("queue declare: %w", err)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Queue: queueName, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		return &DeliveryError{Queue: queueName, Err: fmt.Errorf("amqp publish: %w", err)}
	}

	MessagesPublishedTotal.WithLabelValues("rabbitmq").Inc()

	return nil
}

// Subscribe declares the durable queue and starts consuming with manual
// acknowledgement. Handler success acks the delivery; handler failure nacks
// without requeue, dropping the message after its single attempt.
func (b *RabbitMQBackend) Subscribe(ctx context.Context, queueName string, handler Handler) error {
	if handler == nil {
		return &SubscriptionError{Queue: queueName, Err: fmt.Errorf("nil handler")}
	}

	ch, err := b.channel()
	if err != nil {
		return &SubscriptionError{Queue: queueName, Err: err}
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return &SubscriptionError{Queue: queueName, Err: fmt.Errorf("queue declare: %w", err)}
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return &SubscriptionError{Queue: queueName, Err: fmt.Errorf("amqp consume: %w", err)}
	}

	go b.consume(ctx, queueName, deliveries, handler)

	b.log.Info().Str("queue", queueName).Msg("amqp consumer started")

	return nil
}

// consume processes deliveries until the broker closes the channel. A
// non-JSON body is delivered to the handler as a raw string rather than
// rejected outright.
func (b *RabbitMQBackend) consume(ctx context.Context, queueName string, deliveries <-chan amqp.Delivery, handler Handler) {
	for d := range deliveries {
		var payload any
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			payload = string(d.Body)
		}

		start := time.Now()
		err := handler(ctx, payload)
		HandlerDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			MessagesDeliveredTotal.WithLabelValues("rabbitmq", "failed").Inc()
			b.log.Error().Err(err).Str("queue", queueName).Msg("handler failed, dropping message")
			if nackErr := d.Nack(false, false); nackErr != nil {
				b.log.Error().Err(nackErr).Str("queue", queueName).Msg("nack failed")
			}
			continue
		}

		MessagesDeliveredTotal.WithLabelValues("rabbitmq", "ok").Inc()
		if ackErr := d.Ack(false); ackErr != nil {
			b.log.Error().Err(ackErr).Str("queue", queueName).Msg("ack failed")
		}
	}

	b.log.Warn().Str("queue", queueName).Msg("amqp delivery channel closed")
}

// Close closes the channel, then the connection, each independently and
// best-effort. It never returns an error.
func (b *RabbitMQBackend) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			b.log.Warn().Err(err).Msg("amqp channel close failed")
		}
		b.ch = nil
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.log.Warn().Err(err).Msg("amqp connection close failed")
		}
		b.conn = nil
	}
	return nil
}
