package locality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDeterministicKeepsLowestID(t *testing.T) {
	r := New(false)
	r.Seed(map[string][]int{
		"10.0.0.1": {3, 1, 2},
	})

	workers := r.WorkersAt("10.0.0.1")
	assert.Equal(t, []int{1}, workers, "deterministic mode must collapse a bucket to its lowest worker id at seed time")

	id, ok := r.WorkerAt("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestSeedRandomizedKeepsAllCandidates(t *testing.T) {
	r := New(true)
	r.Seed(map[string][]int{
		"10.0.0.1": {3, 1, 2},
	})

	assert.Equal(t, []int{1, 2, 3}, r.WorkersAt("10.0.0.1"))

	id, ok := r.WorkerAt("10.0.0.1")
	require.True(t, ok)
	assert.Contains(t, []int{1, 2, 3}, id)
}

func TestUnknownIPHasNoWorkers(t *testing.T) {
	r := New(false)
	r.Seed(map[string][]int{"10.0.0.1": {1}})
	_, ok := r.WorkerAt("10.0.0.2")
	assert.False(t, ok)
}

func TestNeedsLoopbackReconciliation(t *testing.T) {
	r := New(false)
	r.Seed(map[string][]int{
		"127.0.0.1": {1},
		"10.0.0.5":  {2},
	})
	assert.True(t, r.NeedsLoopbackReconciliation())

	r.Reconcile("10.0.0.5")
	assert.False(t, r.NeedsLoopbackReconciliation())
	assert.ElementsMatch(t, []int{1, 2}, r.WorkersAt("10.0.0.5"))
	assert.Empty(t, r.WorkersAt("127.0.0.1"))
}

func TestNoLoopbackReconciliationWhenOnlyLoopbackKnown(t *testing.T) {
	r := New(false)
	r.Seed(map[string][]int{"127.0.0.1": {1}})
	assert.False(t, r.NeedsLoopbackReconciliation(), "with no other IP to fold into, reconciliation has nothing to do")
}

func TestSeeded(t *testing.T) {
	r := New(false)
	assert.False(t, r.Seeded())
	r.Seed(map[string][]int{"10.0.0.1": {1}})
	assert.True(t, r.Seeded())
}
