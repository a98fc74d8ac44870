package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTrackerDefaultsToIdle(t *testing.T) {
	tr := NewStateTracker(nil)
	assert.Equal(t, StateIdle, tr.State("T-100"))
}

func TestStateTrackerEnter(t *testing.T) {
	tr := NewStateTracker(nil)

	tr.Enter("T-100", StateOptimisticPending)
	assert.Equal(t, StateOptimisticPending, tr.State("T-100"))
	assert.Equal(t, StateIdle, tr.State("T-200"), "keys are independent")

	tr.Enter("T-100", StateRollingBack)
	tr.Enter("T-100", StateIdle)
	assert.Equal(t, StateIdle, tr.State("T-100"))
}

func TestStateTrackerEnterIf(t *testing.T) {
	tr := NewStateTracker(nil)

	assert.True(t, tr.EnterIf("T-100", StateIdle, StateReconciling))
	assert.Equal(t, StateReconciling, tr.State("T-100"))

	assert.False(t, tr.EnterIf("T-100", StateIdle, StateReconciling),
		"a conditional transition from the wrong state must not fire")
	assert.Equal(t, StateReconciling, tr.State("T-100"))

	tr.Enter("T-100", StateOptimisticPending)
	assert.False(t, tr.EnterIf("T-100", StateReconciling, StateIdle),
		"completion of a stale flight must not relabel a newer mutation")
	assert.Equal(t, StateOptimisticPending, tr.State("T-100"))

	tr.Enter("T-100", StateReconciling)
	assert.True(t, tr.EnterIf("T-100", StateReconciling, StateIdle))
	assert.Equal(t, StateIdle, tr.State("T-100"))
}
