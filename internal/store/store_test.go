package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

func newTestStore() *Store {
	return New(0, 0, zap.NewNop())
}

func ticketV(code string, status domain.TicketStatus) *domain.Ticket {
	return &domain.Ticket{TrackingCode: code, Subject: "subject", Status: status}
}

func TestSetReplacesWholesale(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	v1 := ticketV("T-100", domain.TicketStatusOpen)
	v2 := ticketV("T-100", domain.TicketStatusInProgress)

	s.Set("T-100", v1)
	got, ok := s.Get("T-100")
	require.True(t, ok)
	assert.Same(t, v1, got)

	s.Set("T-100", v2)
	got, ok = s.Get("T-100")
	require.True(t, ok)
	assert.Same(t, v2, got)

	update, ok := s.Peek("T-100")
	require.True(t, ok)
	assert.Equal(t, uint64(2), update.Version)
	assert.False(t, update.Stale)
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	_, ok := s.Get("T-404")
	assert.False(t, ok)
	_, ok = s.Peek("T-404")
	assert.False(t, ok)
}

func TestSubscribeNotifiesAllListeners(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	var mu sync.Mutex
	var first, second []Update
	s.Subscribe("T-100", func(u Update) {
		mu.Lock()
		first = append(first, u)
		mu.Unlock()
	})
	s.Subscribe("T-100", func(u Update) {
		mu.Lock()
		second = append(second, u)
		mu.Unlock()
	})

	v1 := ticketV("T-100", domain.TicketStatusOpen)
	s.Set("T-100", v1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Same(t, v1, first[0].Ticket)
	assert.Equal(t, first[0].Version, second[0].Version)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	var mu sync.Mutex
	calls := 0
	cancel := s.Subscribe("T-100", func(Update) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	s.Set("T-100", ticketV("T-100", domain.TicketStatusOpen))
	cancel()
	cancel()
	s.Set("T-100", ticketV("T-100", domain.TicketStatusInProgress))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestMarkStaleKeepsSnapshotReadable(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	var mu sync.Mutex
	var updates []Update
	s.Subscribe("T-100", func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	v1 := ticketV("T-100", domain.TicketStatusOpen)
	s.Set("T-100", v1)
	s.MarkStale("T-100")

	update, ok := s.Peek("T-100")
	require.True(t, ok)
	assert.True(t, update.Stale)
	assert.Same(t, v1, update.Ticket)

	mu.Lock()
	require.Len(t, updates, 2)
	assert.False(t, updates[0].Stale)
	assert.True(t, updates[1].Stale)
	assert.Greater(t, updates[1].Version, updates[0].Version)
	mu.Unlock()

	// a fresh snapshot clears the flag
	s.Set("T-100", ticketV("T-100", domain.TicketStatusInProgress))
	update, _ = s.Peek("T-100")
	assert.False(t, update.Stale)
}

func TestMarkStaleOnUncachedKeyIsNoop(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	s.MarkStale("T-404")
	_, ok := s.Peek("T-404")
	assert.False(t, ok)
}

func TestMutateAppliesAtomically(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	v1 := ticketV("T-100", domain.TicketStatusOpen)
	s.Set("T-100", v1)

	applied := s.Mutate("T-100", func(current *domain.Ticket) (*domain.Ticket, bool) {
		require.Same(t, v1, current)
		return current.WithReply(domain.NewOptimisticReply("hello"), current.StatusAfterReply()), true
	})
	require.True(t, applied)

	got, ok := s.Get("T-100")
	require.True(t, ok)
	assert.True(t, got.HasPendingReply())
	assert.Equal(t, domain.TicketStatusInProgress, got.Status)
}

func TestMutateAbortLeavesNoTrace(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	var mu sync.Mutex
	notifications := 0
	s.Subscribe("T-100", func(Update) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	s.Set("T-100", ticketV("T-100", domain.TicketStatusOpen))
	before, _ := s.Peek("T-100")

	applied := s.Mutate("T-100", func(*domain.Ticket) (*domain.Ticket, bool) {
		return nil, false
	})
	assert.False(t, applied)

	after, _ := s.Peek("T-100")
	assert.Equal(t, before.Version, after.Version)
	assert.Same(t, before.Ticket, after.Ticket)

	mu.Lock()
	assert.Equal(t, 1, notifications)
	mu.Unlock()
}

func TestMutateOnMissingKeySeesNil(t *testing.T) {
	s := newTestStore()
	defer s.Close()

	sawNil := false
	applied := s.Mutate("T-404", func(current *domain.Ticket) (*domain.Ticket, bool) {
		sawNil = current == nil
		return nil, false
	})
	assert.False(t, applied)
	assert.True(t, sawNil)
}

func TestSweepEvictsOnlyUnreferencedKeys(t *testing.T) {
	s := New(10*time.Millisecond, time.Hour, zap.NewNop())
	defer s.Close()

	s.Set("T-100", ticketV("T-100", domain.TicketStatusOpen))
	s.Set("T-200", ticketV("T-200", domain.TicketStatusOpen))
	cancel := s.Subscribe("T-200", func(Update) {})
	defer cancel()

	time.Sleep(30 * time.Millisecond)
	s.sweep(time.Now())

	_, ok := s.Get("T-100")
	assert.False(t, ok, "unreferenced key should be evicted")
	_, ok = s.Get("T-200")
	assert.True(t, ok, "subscribed key must survive")
	assert.Equal(t, 1, s.Len())
}
