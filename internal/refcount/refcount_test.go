package refcount

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinypool-io/tinypool/common"
	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// fakeNotifier records calls instead of dispatching anywhere, standing in
// for the Pool during these tests.
type fakeNotifier struct {
	mu       sync.Mutex
	refs     []common.DRef
	unrefs   []common.DRef
}

func (f *fakeNotifier) RefAtOwner(ref common.DRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
}

func (f *fakeNotifier) UnrefAtOwner(ref common.DRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unrefs = append(f.unrefs, ref)
}

func TestFirstMaterializeNotifiesOwnerOnce(t *testing.T) {
	n := &fakeNotifier{}
	c := New(2, n)
	ref := common.DRef{Owner: 1, ID: 10}

	c.OnMaterialize(ref)
	c.OnMaterialize(ref) // a second local holder, same worker

	assert.Equal(t, 2, c.LocalHolders(ref))
	assert.Equal(t, []common.DRef{ref}, n.refs, "owner notification fires only on first sight")
}

func TestLastDropNotifiesOwnerOnce(t *testing.T) {
	n := &fakeNotifier{}
	c := New(2, n)
	ref := common.DRef{Owner: 1, ID: 10}

	c.OnMaterialize(ref)
	c.OnMaterialize(ref)
	require.NoError(t, c.OnDrop(ref))
	assert.Empty(t, n.unrefs, "still one live holder, no unref yet")

	require.NoError(t, c.OnDrop(ref))
	assert.Equal(t, []common.DRef{ref}, n.unrefs)
	assert.Equal(t, 0, c.LocalHolders(ref))
}

func TestDropWithoutMaterializeFailsPrecondition(t *testing.T) {
	c := New(2, &fakeNotifier{})
	err := c.OnDrop(common.DRef{Owner: 1, ID: 99})
	require.Error(t, err)
	assert.True(t, errors.Is(err, poolerr.ErrPrecondition))
}

func TestOwnerPopulationZeroCallback(t *testing.T) {
	c := New(1, &fakeNotifier{})
	var destroyed []uint64
	c.OnPopulationZero = func(id uint64) { destroyed = append(destroyed, id) }

	ref := common.DRef{Owner: 1, ID: 5}
	c.RefAtOwner(ref)
	c.RefAtOwner(ref) // two distinct workers holding it
	assert.Equal(t, 2, c.OwnerPopulations(ref))

	c.UnrefAtOwner(ref)
	assert.Empty(t, destroyed, "one holder remains")

	c.UnrefAtOwner(ref)
	assert.Equal(t, []uint64{5}, destroyed)
	assert.Equal(t, 0, c.OwnerPopulations(ref))
}

func TestTrackedRefs(t *testing.T) {
	c := New(2, &fakeNotifier{})
	a := common.DRef{Owner: 1, ID: 1}
	b := common.DRef{Owner: 3, ID: 2}
	c.OnMaterialize(a)
	c.OnMaterialize(b)

	assert.ElementsMatch(t, []common.DRef{a, b}, c.TrackedRefs())
}
