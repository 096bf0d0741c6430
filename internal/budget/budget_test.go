package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffortBudgetCounting(t *testing.T) {
	t.Parallel()

	b := New(2, 1)

	require.True(t, b.CanCallModel())
	require.True(t, b.CanSearch())

	b.RecordModelCall()
	assert.True(t, b.CanCallModel())
	b.RecordModelCall()
	assert.False(t, b.CanCallModel())

	b.RecordSearchIteration()
	assert.False(t, b.CanSearch())

	assert.Equal(t, 2, b.ModelCallsUsed())
	assert.Equal(t, 1, b.SearchIterationsUsed())
}

func TestEffortBudgetZeroCaps(t *testing.T) {
	t.Parallel()

	b := New(0, 0)
	assert.False(t, b.CanCallModel())
	assert.False(t, b.CanSearch())

	b = New(-3, -1)
	assert.False(t, b.CanCallModel())
	assert.False(t, b.CanSearch())
}

func TestEffortBudgetSnapshot(t *testing.T) {
	t.Parallel()

	b := New(5, 3)
	b.RecordModelCall()
	b.RecordSearchIteration()
	b.RecordSearchIteration()

	snap := b.Snapshot()
	assert.Equal(t, Snapshot{
		ModelCallsUsed:       1,
		MaxModelCalls:        5,
		SearchIterationsUsed: 2,
		MaxSearchIterations:  3,
	}, snap)
}

func TestExceededError(t *testing.T) {
	t.Parallel()

	err := &ExceededError{Resource: ResourceModelCalls}
	assert.Equal(t, "effort budget exceeded: model calls", err.Error())
}
