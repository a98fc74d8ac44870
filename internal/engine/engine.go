// Package engine keeps locally cached tickets consistent with the backend.
// It reconciles three concurrent forces on each snapshot: optimistic user
// replies, asynchronous confirmation or rejection of those replies, and push
// events announcing server-side changes. The backend is always authoritative;
// local state is a cache that converges to it and never blocks rendering.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/push"
	"github.com/spec-kit/ticket-sync/internal/store"
)

// Dependencies bundles what the engine is built from. Client is required.
// Store is optional; the engine builds its own when nil. Transport may be
// nil, which disables push and leaves only explicit refresh. Logger, Metrics
// and Notify are optional.
type Dependencies struct {
	Client    api.Client
	Store     *store.Store
	Transport push.Transport
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Notify    NotifyFunc
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Engine is the synchronization facade. All methods are safe for concurrent
// use; one engine serves any number of observed tickets.
type Engine struct {
	store    *store.Store
	ownStore bool
	sched    *Scheduler
	coord    *Coordinator
	subs     *SubscriptionManager
	states   *StateTracker
	logger   *zap.Logger
}

// New assembles an engine from cfg and deps.
func New(cfg config.SyncConfig, deps Dependencies) *Engine {
	logger := deps.logger()
	ownStore := deps.Store == nil
	if ownStore {
		deps.Store = store.New(cfg.EvictAfter(), cfg.SweepInterval(), logger.Named("store"))
	}

	states := NewStateTracker(logger)
	sched := NewScheduler(cfg, deps, states)
	return &Engine{
		store:    deps.Store,
		ownStore: ownStore,
		sched:    sched,
		coord:    NewCoordinator(deps, sched, states),
		subs:     NewSubscriptionManager(cfg, deps),
		states:   states,
		logger:   logger.Named("engine"),
	}
}

// Observe starts watching the ticket identified by code. It returns the
// current snapshot and a stop function releasing the subscription; onUpdate
// fires on every subsequent snapshot change, including stale flags.
//
// A cached ticket is returned immediately and revalidated in the background.
// An uncached one is fetched first; ctx bounds only that initial fetch.
// onUpdate may fire before Observe returns. Stop is idempotent.
func (e *Engine) Observe(ctx context.Context, code string, onUpdate store.Listener) (store.Update, func(), error) {
	if onUpdate == nil {
		onUpdate = func(store.Update) {}
	}

	// Subscribe before reading so no write between the snapshot and the
	// subscription can be missed; the same write may then be seen twice,
	// which Update.Version lets the caller collapse.
	cancelStore := e.store.Subscribe(code, onUpdate)
	detachPush := e.subs.Attach(push.TicketTopic(code), func(push.Event) {
		e.sched.Invalidate(code)
	})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			detachPush()
			cancelStore()
			e.logger.Debug("ticket released", zap.String("tracking_code", code))
		})
	}

	if update, ok := e.store.Peek(code); ok {
		e.logger.Debug("ticket observed from cache",
			zap.String("tracking_code", code),
			zap.Uint64("version", update.Version))
		e.sched.Invalidate(code)
		return update, stop, nil
	}

	if _, err := e.sched.Refetch(ctx, code); err != nil {
		stop()
		return store.Update{}, nil, err
	}
	update, _ := e.store.Peek(code)
	e.logger.Debug("ticket observed",
		zap.String("tracking_code", code),
		zap.Uint64("version", update.Version))
	return update, stop, nil
}

// SendMessage posts a requester reply on an observed ticket. See
// Coordinator.SendMessage for the refusal and rollback contract.
func (e *Engine) SendMessage(ctx context.Context, code, body string) error {
	return e.coord.SendMessage(ctx, code, body)
}

// Refresh forces one canonical refetch and waits for it to settle. Callers
// that do not need to wait can rely on push events instead.
func (e *Engine) Refresh(ctx context.Context, code string) error {
	_, err := e.sched.Refetch(ctx, code)
	return err
}

// Snapshot returns the cached state for code without fetching.
func (e *Engine) Snapshot(code string) (store.Update, bool) {
	return e.store.Peek(code)
}

// State reports where code is in its synchronization lifecycle.
func (e *Engine) State(code string) SyncState {
	return e.states.State(code)
}

// Store exposes the underlying snapshot cache.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Close stops push pumps and in-flight refetches. The store is closed only
// when the engine created it.
func (e *Engine) Close() {
	e.subs.Close()
	e.sched.Close()
	if e.ownStore {
		e.store.Close()
	}
	e.logger.Debug("engine closed")
}
