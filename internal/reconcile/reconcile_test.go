package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinypool-io/tinypool/common"
)

type fakeProber struct {
	known map[uint64]bool
}

func (f *fakeProber) OwnerKnowsUs(ref common.DRef) (bool, bool) {
	return f.known[ref.ID], true
}

type fakeResender struct {
	mu      sync.Mutex
	resends []common.DRef
}

func (f *fakeResender) ResendRefAtOwner(ref common.DRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends = append(f.resends, ref)
}

func (f *fakeResender) snapshot() []common.DRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.DRef(nil), f.resends...)
}

func TestSweepResendsOnlyUnknownRefs(t *testing.T) {
	tracked := []common.DRef{
		{Owner: 2, ID: 1},
		{Owner: 2, ID: 2},
	}
	prober := &fakeProber{known: map[uint64]bool{1: true, 2: false}}
	resender := &fakeResender{}

	s := New(func() []common.DRef { return tracked }, prober, resender)
	require.NoError(t, s.Start("@every 20ms"))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(resender.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	resends := resender.snapshot()
	assert.Contains(t, resends, common.DRef{Owner: 2, ID: 2})
	assert.NotContains(t, resends, common.DRef{Owner: 2, ID: 1})
}
