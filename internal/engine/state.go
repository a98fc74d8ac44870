package engine

import (
	"sync"

	"go.uber.org/zap"
)

// SyncState labels where a ticket currently is in its synchronization
// lifecycle.
type SyncState string

const (
	StateIdle              SyncState = "IDLE"
	StateOptimisticPending SyncState = "OPTIMISTIC_PENDING"
	StateReconciling       SyncState = "RECONCILING"
	StateRollingBack       SyncState = "ROLLING_BACK"
)

// StateTracker records the per-ticket sync state machine:
//
//	Idle → OptimisticPending → {Reconciling → Idle} | {RollingBack → Idle}
//
// The coordinator owns the optimistic and rollback edges; the scheduler owns
// the reconcile edges and only ever moves a key between Idle and Reconciling,
// so a fresh optimistic patch is never mislabelled by a background refetch.
type StateTracker struct {
	mu     sync.Mutex
	byCode map[string]SyncState
	logger *zap.Logger
}

// NewStateTracker creates an empty tracker. Unknown keys report StateIdle.
func NewStateTracker(logger *zap.Logger) *StateTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateTracker{byCode: make(map[string]SyncState), logger: logger}
}

// State returns the current state for a tracking code.
func (t *StateTracker) State(code string) SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byCode[code]; ok {
		return s
	}
	return StateIdle
}

// Enter moves the key to next unconditionally.
func (t *StateTracker) Enter(code string, next SyncState) {
	t.mu.Lock()
	prev := t.setLocked(code, next)
	t.mu.Unlock()

	if prev != next {
		t.logger.Debug("sync state changed",
			zap.String("tracking_code", code),
			zap.String("from", string(prev)),
			zap.String("to", string(next)))
	}
}

// EnterIf moves the key to next only when it currently is in from, and
// reports whether the transition happened.
func (t *StateTracker) EnterIf(code string, from, to SyncState) bool {
	t.mu.Lock()
	current, ok := t.byCode[code]
	if !ok {
		current = StateIdle
	}
	if current != from {
		t.mu.Unlock()
		return false
	}
	t.setLocked(code, to)
	t.mu.Unlock()

	t.logger.Debug("sync state changed",
		zap.String("tracking_code", code),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return true
}

// setLocked stores the state and returns the previous one. Idle entries are
// removed so the map only holds keys with work in progress.
func (t *StateTracker) setLocked(code string, next SyncState) SyncState {
	prev, ok := t.byCode[code]
	if !ok {
		prev = StateIdle
	}
	if next == StateIdle {
		delete(t.byCode, code)
	} else {
		t.byCode[code] = next
	}
	return prev
}
