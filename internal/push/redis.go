package push

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
)

// RedisBroker implements Transport and Publisher over Redis pub/sub. Redis
// pub/sub is fire-and-forget per connected subscriber, which matches the
// at-least-once, unordered contract consumers are written against.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker connects to Redis using the provided configuration.
func NewRedisBroker(cfg config.RedisConfig, logger *zap.Logger) *RedisBroker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}

	return &RedisBroker{client: client, logger: logger}
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Event
}

func (s *redisSubscription) Events() <-chan Event {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

// Subscribe opens a channel subscription and confirms it before returning.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSubscription{ps: ps, out: make(chan Event, 16)}
	go b.pump(topic, sub)
	return sub, nil
}

func (b *RedisBroker) pump(topic string, sub *redisSubscription) {
	defer close(sub.out)
	for msg := range sub.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("malformed push event dropped",
				zap.String("topic", topic), zap.Error(err))
			continue
		}
		sub.out <- ev
	}
}

// Publish emits ev on the event's ticket topic.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, TicketTopic(ev.TrackingCode), payload).Err()
}

// Ping verifies Redis connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if b == nil || b.client == nil {
		return errors.New("redis client not configured")
	}
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (b *RedisBroker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
