package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingSetRejectsDuplicates(t *testing.T) {
	r := newRingSet(4)

	assert.True(t, r.add("a"))
	assert.False(t, r.add("a"))
	assert.True(t, r.add("b"))
	assert.False(t, r.add("a"), "still remembered inside the window")
}

func TestRingSetEvictsOldestBeyondWindow(t *testing.T) {
	r := newRingSet(3)

	for i := 0; i < 3; i++ {
		assert.True(t, r.add(fmt.Sprintf("ev-%d", i)))
	}
	assert.True(t, r.add("ev-3"), "fourth id evicts the oldest")
	assert.True(t, r.add("ev-0"), "the evicted id is forgotten")
	assert.False(t, r.add("ev-3"))
}

func TestRingSetMinimumWindow(t *testing.T) {
	r := newRingSet(0)
	assert.True(t, r.add("a"))
	assert.False(t, r.add("a"))
	assert.True(t, r.add("b"))
	assert.True(t, r.add("a"), "window of one only remembers the latest id")
}
