package push

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroker is an in-process Transport and Publisher. It backs tests and
// single-process setups; Drop simulates a transport failure.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	out    chan Event
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.broker.remove(s)
	s.shutdown()
	return nil
}

// shutdown closes the event stream. Callers must have removed the
// subscription from the broker map first so Publish never sees a closed
// channel.
func (s *memorySubscription) shutdown() {
	s.once.Do(func() { close(s.out) })
}

// Subscribe opens a stream for topic.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("broker closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		out:    make(chan Event, 16),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySubscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub, nil
}

// Publish delivers ev to every subscriber of the event's ticket topic.
// Subscribers that stopped draining lose events once their buffer fills,
// the same bargain Redis pub/sub makes; consumers catch up through the
// resubscribe path.
func (b *MemoryBroker) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := TicketTopic(ev.TrackingCode)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker closed")
	}
	for sub := range b.subs[topic] {
		select {
		case sub.out <- ev:
		default:
		}
	}
	return nil
}

// Drop forcibly ends every subscription on topic without removing the
// broker itself, mimicking a lost connection. Subscribers observe a closed
// event channel.
func (b *MemoryBroker) Drop(topic string) {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
}

// SubscriberCount reports live subscriptions for topic.
func (b *MemoryBroker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Ping always succeeds while the broker is open.
func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker closed")
	}
	return nil
}

// Close ends all subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.shutdown()
	}
	return nil
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subs[sub.topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}
