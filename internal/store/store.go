// Package store holds the client-side snapshot cache. It is the single
// source of truth every view renders from: refetches, optimistic patches
// and rollbacks all land here as wholesale snapshot replacements.
package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// Update is delivered to listeners whenever a key changes. Version grows by
// one per write to the key, so listeners can discard reordered deliveries.
// The ticket pointer is shared; receivers must treat it as read-only.
type Update struct {
	Ticket  *domain.Ticket
	Stale   bool
	Version uint64
}

// Listener receives updates for a subscribed key. Listeners run on the
// goroutine that performed the write and must return quickly.
type Listener func(Update)

type entry struct {
	ticket    *domain.Ticket
	stale     bool
	version   uint64
	fetchedAt time.Time
	touchedAt time.Time
	listeners map[uint64]Listener
}

// Store is a keyed in-memory cache of ticket snapshots with subscription
// support and optional eviction of unreferenced keys.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64

	evictAfter time.Duration
	logger     *zap.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a store. When evictAfter and sweepEvery are both positive a
// janitor goroutine drops keys that have no listeners and have not been
// touched within evictAfter.
func New(evictAfter, sweepEvery time.Duration, logger *zap.Logger) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		evictAfter: evictAfter,
		logger:     logger,
		done:       make(chan struct{}),
	}
	if evictAfter > 0 && sweepEvery > 0 {
		go s.janitor(sweepEvery)
	}
	return s
}

// Get returns the cached snapshot for key, if any.
func (s *Store) Get(key string) (*domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil || e.ticket == nil {
		return nil, false
	}
	e.touchedAt = time.Now()
	return e.ticket, true
}

// Peek returns the full update state for key without counting as a touch.
func (s *Store) Peek(key string) (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil || e.ticket == nil {
		return Update{}, false
	}
	return Update{Ticket: e.ticket, Stale: e.stale, Version: e.version}, true
}

// Set replaces the snapshot for key wholesale and clears the stale flag.
// Used for refetch results and rollbacks.
func (s *Store) Set(key string, ticket *domain.Ticket) {
	now := time.Now()
	s.mu.Lock()
	e := s.ensureLocked(key)
	e.ticket = ticket
	e.stale = false
	e.version++
	e.fetchedAt = now
	e.touchedAt = now
	update, listeners := s.updateLocked(e)
	s.mu.Unlock()

	dispatch(listeners, update)
}

// Mutate applies fn to the current snapshot under the store lock and
// replaces it with the result when fn reports ok. The atomicity matters for
// optimistic writes: a refetch landing concurrently can never be read and
// then silently overwritten with a patch computed from older data. fn must
// not call back into the store and must not mutate its argument.
func (s *Store) Mutate(key string, fn func(current *domain.Ticket) (*domain.Ticket, bool)) bool {
	s.mu.Lock()
	var current *domain.Ticket
	if e := s.entries[key]; e != nil {
		current = e.ticket
	}
	next, ok := fn(current)
	if !ok || next == nil {
		s.mu.Unlock()
		return false
	}
	e := s.ensureLocked(key)
	e.ticket = next
	e.version++
	e.touchedAt = time.Now()
	update, listeners := s.updateLocked(e)
	s.mu.Unlock()

	dispatch(listeners, update)
	return true
}

// MarkStale flags the cached snapshot as possibly out of date while keeping
// it readable. No-op when the key has never been cached.
func (s *Store) MarkStale(key string) {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil || e.ticket == nil {
		s.mu.Unlock()
		return
	}
	e.stale = true
	e.version++
	update, listeners := s.updateLocked(e)
	s.mu.Unlock()

	dispatch(listeners, update)
}

// Subscribe registers a listener for key and returns a cancel func. The
// cancel func is idempotent. Subscribing pins the key against eviction.
func (s *Store) Subscribe(key string, l Listener) func() {
	s.mu.Lock()
	e := s.ensureLocked(key)
	s.nextID++
	id := s.nextID
	e.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur := s.entries[key]; cur != nil {
			delete(cur.listeners, id)
			cur.touchedAt = time.Now()
		}
	}
}

// Len reports how many keys are currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the janitor. The store stays usable for reads and writes.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) ensureLocked(key string) *entry {
	e := s.entries[key]
	if e == nil {
		e = &entry{listeners: make(map[uint64]Listener), touchedAt: time.Now()}
		s.entries[key] = e
	}
	return e
}

func (s *Store) updateLocked(e *entry) (Update, []Listener) {
	update := Update{Ticket: e.ticket, Stale: e.stale, Version: e.version}
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	return update, listeners
}

// dispatch invokes listeners outside the store lock so they may read the
// store again without deadlocking.
func dispatch(listeners []Listener, update Update) {
	for _, l := range listeners {
		l(update)
	}
}

func (s *Store) janitor(sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	var evicted []string
	for key, e := range s.entries {
		if len(e.listeners) == 0 && now.Sub(e.touchedAt) > s.evictAfter {
			delete(s.entries, key)
			evicted = append(evicted, key)
		}
	}
	s.mu.Unlock()

	for _, key := range evicted {
		s.logger.Debug("evicted unreferenced snapshot", zap.String("tracking_code", key))
	}
}
