package push

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
)

const maxDialBackoff = 30 * time.Second

// AMQPBroker implements Transport and Publisher over a RabbitMQ topic
// exchange. Each subscription gets an exclusive auto-delete queue bound to
// the ticket topic, so every client instance sees every event.
type AMQPBroker struct {
	conn     *amqp091.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPBroker dials RabbitMQ with exponential backoff and declares the
// shared topic exchange.
func NewAMQPBroker(ctx context.Context, cfg config.AMQPConfig, logger *zap.Logger) (*AMQPBroker, error) {
	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("connected to rabbitmq", zap.String("exchange", cfg.Exchange))
	return &AMQPBroker{conn: conn, exchange: cfg.Exchange, logger: logger}, nil
}

func dialWithRetry(ctx context.Context, cfg config.AMQPConfig, logger *zap.Logger) (*amqp091.Connection, error) {
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 5
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logger.Info("rabbitmq connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := cfg.DialBackoff() * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialBackoff {
			sleep = maxDialBackoff
		}
		logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

type amqpSubscription struct {
	ch  *amqp091.Channel
	out chan Event
}

func (s *amqpSubscription) Events() <-chan Event {
	return s.out
}

func (s *amqpSubscription) Close() error {
	return s.ch.Close()
}

// Subscribe binds a fresh exclusive queue to the topic and starts consuming.
// The event channel closes when the AMQP channel or connection drops.
func (b *AMQPBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	sub := &amqpSubscription{ch: ch, out: make(chan Event, 16)}
	go b.pump(topic, deliveries, sub)
	return sub, nil
}

func (b *AMQPBroker) pump(topic string, deliveries <-chan amqp091.Delivery, sub *amqpSubscription) {
	defer close(sub.out)
	for d := range deliveries {
		var ev Event
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			b.logger.Warn("malformed push event dropped",
				zap.String("topic", topic), zap.Error(err))
			continue
		}
		sub.out <- ev
	}
}

// Publish emits ev on the event's ticket topic through a short-lived
// channel, persistent and confirmed by the broker.
func (b *AMQPBroker) Publish(ctx context.Context, ev Event) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(
		ctx, b.exchange, TicketTopic(ev.TrackingCode), false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
}

// Ping reports whether the connection is still open.
func (b *AMQPBroker) Ping(context.Context) error {
	if b == nil || b.conn == nil || b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the connection and with it every subscription channel.
func (b *AMQPBroker) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
