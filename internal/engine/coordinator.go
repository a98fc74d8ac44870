package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/store"
)

// Refusal errors returned by SendMessage before any side effect happens.
var (
	// ErrReplyPending is returned while a previous reply for the same ticket
	// is still awaiting confirmation.
	ErrReplyPending = errors.New("a reply is already awaiting confirmation")
	// ErrTicketFinal is returned for tickets that no longer accept replies.
	ErrTicketFinal = errors.New("ticket no longer accepts replies")
	// ErrNotCached is returned when the ticket has never been fetched;
	// callers observe a ticket before replying to it.
	ErrNotCached = errors.New("ticket is not cached")
)

// Coordinator runs the optimistic reply flow: snapshot, optimistic apply,
// dispatch, reconcile or roll back. It is the only writer of optimistic
// patches and rollbacks; canonical snapshots arrive through the scheduler.
type Coordinator struct {
	client  api.Client
	store   *store.Store
	sched   *Scheduler
	states  *StateTracker
	logger  *zap.Logger
	metrics *observability.Metrics
	notify  NotifyFunc

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCoordinator builds a coordinator that settles through sched.
func NewCoordinator(deps Dependencies, sched *Scheduler, states *StateTracker) *Coordinator {
	return &Coordinator{
		client:   deps.Client,
		store:    deps.Store,
		sched:    sched,
		states:   states,
		logger:   deps.logger().Named("coordinator"),
		metrics:  deps.Metrics,
		notify:   deps.Notify,
		inFlight: make(map[string]struct{}),
	}
}

// SendMessage posts body as a requester reply on the ticket identified by
// code. The reply is applied optimistically before the backend confirms it;
// on rejection the snapshot is restored to exactly what it was before the
// call. Whichever way the dispatch settles, one canonical refetch is
// requested so server-side effects are picked up even on failure.
//
// SendMessage refuses with no side effects while another reply is in flight
// for the same ticket, when the ticket is resolved or closed, and when the
// ticket has never been cached.
func (c *Coordinator) SendMessage(ctx context.Context, code, body string) error {
	// Reserve the key before touching the store so two racing sends can
	// never both dispatch. The snapshot's own pending flag is checked again
	// under the store lock because a refetch may have replaced it.
	c.mu.Lock()
	if _, dup := c.inFlight[code]; dup {
		c.mu.Unlock()
		return ErrReplyPending
	}
	c.inFlight[code] = struct{}{}
	c.mu.Unlock()

	reply := domain.NewOptimisticReply(body)

	var previous *domain.Ticket
	var refusal error
	applied := c.store.Mutate(code, func(current *domain.Ticket) (*domain.Ticket, bool) {
		switch {
		case current == nil:
			refusal = ErrNotCached
			return nil, false
		case current.HasPendingReply():
			refusal = ErrReplyPending
			return nil, false
		case !current.AcceptsReplies():
			refusal = ErrTicketFinal
			return nil, false
		}
		previous = current
		return current.WithReply(reply, current.StatusAfterReply()), true
	})
	if !applied {
		c.release(code)
		return refusal
	}

	c.states.Enter(code, StateOptimisticPending)
	c.logger.Debug("optimistic reply applied",
		zap.String("tracking_code", code),
		zap.String("reply_id", reply.ID))

	err := c.client.PostReply(ctx, code, reply.Body)
	if err != nil {
		c.states.Enter(code, StateRollingBack)
		c.store.Set(code, previous)
		c.states.Enter(code, StateIdle)
		c.release(code)

		c.metrics.RecordRollback(code)
		notify(c.notify, NoticeReplyRejected, code, err)
		c.logger.Error("reply rejected; optimistic patch rolled back",
			zap.String("tracking_code", code), zap.Error(err))

		// The backend may have partially processed the reply before
		// failing; refetch so any server-side effect still lands.
		c.sched.Invalidate(code)
		return err
	}

	c.states.Enter(code, StateReconciling)
	c.release(code)
	c.logger.Debug("reply confirmed; reconciling",
		zap.String("tracking_code", code))

	// The placeholder is replaced by refetching the canonical thread, never
	// by patching the id in place; server-assigned order and timestamps win.
	c.sched.Invalidate(code)
	return nil
}

func (c *Coordinator) release(code string) {
	c.mu.Lock()
	delete(c.inFlight, code)
	c.mu.Unlock()
}
