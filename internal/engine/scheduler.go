package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/store"
)

// flight is one canonical fetch shared by every request that coalesced into
// it. done closes after the result has been written to the store, so a waiter
// that wakes up always observes its own flight's snapshot (or a newer one).
type flight struct {
	started bool // the network call has begun; late requests must trail
	joins   int
	done    chan struct{}
	ticket  *domain.Ticket
	err     error
}

func newFlight() *flight {
	return &flight{joins: 1, done: make(chan struct{})}
}

// keyFlights is the per-key coalescing window: the flight whose network call
// is running (or about to run), and at most one trailing flight that starts
// once current completes. Requests arriving after the current flight's call
// began collect in the trailing flight, which guarantees each caller a fetch
// that started no earlier than its own request without ever keeping more
// than one call outstanding.
type keyFlights struct {
	current *flight
	next    *flight
}

// Scheduler coalesces and sequences the canonical refetches triggered by
// mutation settlement, push events and view activation. All snapshot writes
// on the refetch path go through here.
type Scheduler struct {
	client  api.Client
	store   *store.Store
	states  *StateTracker
	logger  *zap.Logger
	metrics *observability.Metrics
	notify  NotifyFunc
	backoff time.Duration

	mu   sync.Mutex
	keys map[string]*keyFlights

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler writing into deps.Store.
func NewScheduler(cfg config.SyncConfig, deps Dependencies, states *StateTracker) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		client:  deps.Client,
		store:   deps.Store,
		states:  states,
		logger:  deps.logger().Named("scheduler"),
		metrics: deps.Metrics,
		notify:  deps.Notify,
		backoff: cfg.RetryBackoff(),
		keys:    make(map[string]*keyFlights),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Refetch requests a canonical snapshot for code and waits for it. The wait
// is bounded by ctx, but the underlying fetch is shared and keeps running
// for the other callers when this one gives up.
func (s *Scheduler) Refetch(ctx context.Context, code string) (*domain.Ticket, error) {
	fl := s.enqueue(code)
	select {
	case <-fl.done:
		return fl.ticket, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate requests a refetch for code without waiting for the result.
func (s *Scheduler) Invalidate(code string) {
	s.enqueue(code)
}

// enqueue attaches the request to a flight, creating one when needed.
func (s *Scheduler) enqueue(code string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks := s.keys[code]
	if ks == nil {
		ks = &keyFlights{}
		s.keys[code] = ks
	}

	if ks.current == nil {
		ks.current = newFlight()
		s.wg.Add(1)
		go s.run(code, ks.current)
		return ks.current
	}
	if !ks.current.started {
		// The call has not gone out yet; it will observe everything this
		// request wants observed.
		ks.current.joins++
		s.metrics.RecordCoalesced(code)
		s.logger.Debug("refetch joined pending flight",
			zap.String("tracking_code", code), zap.Int("joins", ks.current.joins))
		return ks.current
	}
	if ks.next == nil {
		ks.next = newFlight()
		s.logger.Debug("trailing refetch queued", zap.String("tracking_code", code))
		return ks.next
	}
	ks.next.joins++
	s.metrics.RecordCoalesced(code)
	s.logger.Debug("refetch joined trailing flight",
		zap.String("tracking_code", code), zap.Int("joins", ks.next.joins))
	return ks.next
}

// run executes one flight and then promotes the trailing flight, if any.
func (s *Scheduler) run(code string, fl *flight) {
	defer s.wg.Done()

	s.mu.Lock()
	fl.started = true
	s.mu.Unlock()

	s.states.EnterIf(code, StateIdle, StateReconciling)
	s.logger.Debug("refetch started", zap.String("tracking_code", code))

	ticket, err := s.fetchWithRetry(code)

	switch {
	case err == nil:
		s.store.Set(code, ticket)
		s.metrics.RecordRefetch(code, true)
	case s.ctx.Err() != nil:
		// Shutting down; leave the snapshot as it is without raising noise.
	default:
		s.store.MarkStale(code)
		s.metrics.RecordRefetch(code, false)
		notify(s.notify, NoticeSnapshotStale, code, err)
		s.logger.Warn("refetch failed; snapshot marked stale",
			zap.String("tracking_code", code), zap.Error(err))
	}
	fl.ticket, fl.err = ticket, err

	s.mu.Lock()
	ks := s.keys[code]
	ks.current = nil
	if ks.next != nil {
		ks.current, ks.next = ks.next, nil
		s.wg.Add(1)
		go s.run(code, ks.current)
		s.mu.Unlock()
	} else {
		delete(s.keys, code)
		s.mu.Unlock()
		s.states.EnterIf(code, StateReconciling, StateIdle)
	}

	close(fl.done)
}

// fetchWithRetry performs the canonical fetch with one bounded retry.
func (s *Scheduler) fetchWithRetry(code string) (*domain.Ticket, error) {
	ticket, err := s.client.FetchTicket(s.ctx, code)
	if err == nil {
		return ticket, nil
	}
	if s.ctx.Err() != nil {
		return nil, err
	}

	s.logger.Warn("refetch failed; retrying once",
		zap.String("tracking_code", code),
		zap.Duration("backoff", s.backoff),
		zap.Error(err))

	timer := time.NewTimer(s.backoff)
	select {
	case <-s.ctx.Done():
		timer.Stop()
		return nil, err
	case <-timer.C:
	}
	return s.client.FetchTicket(s.ctx, code)
}

// Close cancels in-flight fetches and waits for the flight goroutines.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
