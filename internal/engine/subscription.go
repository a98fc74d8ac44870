package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/push"
)

const maxResubscribeBackoff = 30 * time.Second

// topicBinding is the fan-out point for one topic: a single transport
// subscription feeding every attached handler, plus the dedup window that
// absorbs at-least-once redelivery.
type topicBinding struct {
	handlers map[uint64]func(push.Event)
	seen     *ringSet
	cancel   context.CancelFunc
}

// SubscriptionManager multiplexes push topics over one transport. Each
// topic gets one broker subscription no matter how many observers attached,
// kept alive by a supervisor that resubscribes with backoff when the stream
// drops. Handlers receive events already deduplicated by id; ordering is
// whatever the broker delivered.
type SubscriptionManager struct {
	transport push.Transport
	logger    *zap.Logger
	metrics   *observability.Metrics
	backoff   time.Duration
	window    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	nextID   uint64
	topics   map[string]*topicBinding
	warnOnce sync.Once
}

// NewSubscriptionManager builds a manager over deps.Transport. A nil
// transport is allowed; Attach then becomes a no-op and consumers rely on
// explicit refresh alone.
func NewSubscriptionManager(cfg config.SyncConfig, deps Dependencies) *SubscriptionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SubscriptionManager{
		transport: deps.Transport,
		logger:    deps.logger().Named("push"),
		metrics:   deps.Metrics,
		backoff:   cfg.ResubscribeBackoff(),
		window:    cfg.DedupWindow(),
		ctx:       ctx,
		cancel:    cancel,
		topics:    make(map[string]*topicBinding),
	}
}

// Attach registers onEvent for topic and returns a detach function. The
// first handler on a topic opens the broker subscription; the last detach
// closes it. Detaching is idempotent.
func (m *SubscriptionManager) Attach(topic string, onEvent func(push.Event)) func() {
	if m.transport == nil {
		m.warnOnce.Do(func() {
			m.logger.Warn("push transport not configured; snapshots update only on explicit refresh")
		})
		return func() {}
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return func() {}
	}
	b, ok := m.topics[topic]
	if !ok {
		pumpCtx, cancel := context.WithCancel(m.ctx)
		b = &topicBinding{
			handlers: make(map[uint64]func(push.Event)),
			seen:     newRingSet(m.window),
			cancel:   cancel,
		}
		m.topics[topic] = b
		m.wg.Add(1)
		go m.pump(pumpCtx, topic, b)
	}
	id := m.nextID
	m.nextID++
	b.handlers[id] = onEvent
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.topics[topic]; !ok || cur != b {
				return
			}
			delete(b.handlers, id)
			if len(b.handlers) == 0 {
				b.cancel()
				delete(m.topics, topic)
			}
		})
	}
}

// pump owns the broker subscription for one topic: subscribe, consume until
// the stream drops, back off, repeat. After any reconnect a synthetic
// resync event is delivered because events published while disconnected are
// gone for good.
func (m *SubscriptionManager) pump(ctx context.Context, topic string, b *topicBinding) {
	defer m.wg.Done()

	backoff := m.backoff
	connects := 0
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		sub, err := m.transport.Subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			m.logger.Warn("push subscribe failed",
				zap.String("topic", topic),
				zap.Int("failures", failures),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			if !wait(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxResubscribeBackoff {
				backoff = maxResubscribeBackoff
			}
			continue
		}

		backoff = m.backoff
		connects++
		if connects > 1 || failures > 0 {
			m.metrics.RecordResubscribe(topic)
			m.logger.Info("push stream recovered",
				zap.String("topic", topic),
				zap.Int("connects", connects))
			m.deliver(topic, b, push.ResyncEvent(topic))
		}

		if !m.consume(ctx, topic, b, sub) {
			return
		}
		m.logger.Warn("push stream lost", zap.String("topic", topic))
	}
}

// consume drains the subscription until the stream closes (returns true, the
// pump resubscribes) or ctx is canceled (returns false after closing the
// subscription and draining it so the broker-side sender can finish).
func (m *SubscriptionManager) consume(ctx context.Context, topic string, b *topicBinding, sub push.Subscription) bool {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return true
			}
			m.deliver(topic, b, ev)
		case <-ctx.Done():
			_ = sub.Close()
			for range sub.Events() {
			}
			return false
		}
	}
}

func (m *SubscriptionManager) deliver(topic string, b *topicBinding, ev push.Event) {
	m.mu.Lock()
	if !b.seen.add(ev.ID) {
		m.mu.Unlock()
		m.metrics.RecordDuplicateEvent(topic)
		m.logger.Debug("duplicate push event dropped",
			zap.String("topic", topic),
			zap.String("event_id", ev.ID))
		return
	}
	handlers := make([]func(push.Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	m.logger.Debug("push event",
		zap.String("topic", topic),
		zap.String("kind", string(ev.Kind)),
		zap.String("event_id", ev.ID))
	for _, h := range handlers {
		h(ev)
	}
}

// Close stops every pump and waits for them to exit.
func (m *SubscriptionManager) Close() {
	m.cancel()
	m.wg.Wait()
	m.mu.Lock()
	m.topics = make(map[string]*topicBinding)
	m.mu.Unlock()
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
