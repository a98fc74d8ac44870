package push

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerDeliversToTopicSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TicketTopic("T-100"))
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TicketTopic("T-200"))
	require.NoError(t, err)

	ev := NewEvent(KindMessageAdded, "T-100")
	require.NoError(t, b.Publish(ctx, ev))

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, "T-100", got.TrackingCode)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case got := <-other.Events():
		t.Fatalf("unexpected delivery on other topic: %+v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBrokerDropClosesStreams(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), TicketTopic("T-100"))
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(TicketTopic("T-100")))

	b.Drop(TicketTopic("T-100"))

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
	assert.Equal(t, 0, b.SubscriberCount(TicketTopic("T-100")))
}

func TestMemoryBrokerSubscriptionClose(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TicketTopic("T-100"))
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.SubscriberCount(TicketTopic("T-100")))

	// publishing after the subscriber left must not block or error
	require.NoError(t, b.Publish(ctx, NewEvent(KindStatusChanged, "T-100")))
}

func TestMemoryBrokerClosedRefusesWork(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())

	_, err := b.Subscribe(context.Background(), TicketTopic("T-100"))
	assert.Error(t, err)
	assert.Error(t, b.Publish(context.Background(), NewEvent(KindMessageAdded, "T-100")))
	assert.Error(t, b.Ping(context.Background()))
}

func TestTopicHelpers(t *testing.T) {
	topic := TicketTopic("T-100")
	assert.Equal(t, "ticket.T-100", topic)
	assert.Equal(t, "T-100", CodeFromTopic(topic))

	ev := ResyncEvent(topic)
	assert.Equal(t, KindResync, ev.Kind)
	assert.Equal(t, "T-100", ev.TrackingCode)
	assert.NotEmpty(t, ev.ID)
}
