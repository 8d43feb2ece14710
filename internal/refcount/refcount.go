// Package refcount implements the two-level distributed reference counter
// described in spec.md §4.2: local_holders (per worker, every materialization
// of a DRef) and owner_populations (owner-only, distinct holding workers).
package refcount

import (
	"sync"

	"github.com/tinypool-io/tinypool/common"
	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// refKey is the map key for both counter tables: (owner,id).
type refKey struct {
	Owner int
	ID    uint64
}

func keyOf(r common.DRef) refKey { return refKey{Owner: r.Owner, ID: r.ID} }

// Notifier is how a worker tells the owner (itself or remote) about a
// first-sight materialization or a last-drop. Implementations are
// best-effort and fire-and-forget for remote owners (§4.2, §5): a failed
// notification is not retried.
type Notifier interface {
	RefAtOwner(ref common.DRef)
	UnrefAtOwner(ref common.DRef)
}

// Counter holds both tables for one worker. A worker that is the owner of a
// DRef maintains entries in OwnerPopulations for it; every worker (owner
// included) maintains LocalHolders entries for DRefs materialized here.
type Counter struct {
	selfID int

	mu            sync.Mutex
	localHolders  map[refKey]int
	ownerPops     map[refKey]int

	notifier Notifier

	// OnPopulationZero is invoked (outside the lock) when an owner_populations
	// entry transitions to zero: the RefState for that id must be destroyed.
	// Wired by the Pool to the SpillManager's destroy path.
	OnPopulationZero func(id uint64)
}

// New creates a Counter for the worker identified by selfID. notifier routes
// ref_at_owner/unref_at_owner calls (direct for self, async RPC otherwise);
// the Counter does not know or care which.
func New(selfID int, notifier Notifier) *Counter {
	return &Counter{
		selfID:       selfID,
		localHolders: make(map[refKey]int),
		ownerPops:    make(map[refKey]int),
		notifier:     notifier,
	}
}

// OnMaterialize is called on construction of a DRef materialization at this
// worker, including after deserialization (§4.2, §4.3). It is idempotent in
// the sense that repeated calls simply add more live materializations.
func (c *Counter) OnMaterialize(ref common.DRef) {
	k := keyOf(ref)
	c.mu.Lock()
	_, existed := c.localHolders[k]
	c.localHolders[k]++
	c.mu.Unlock()

	if !existed {
		c.notifier.RefAtOwner(ref)
	}
}

// OnDrop is called when a materialization is finalized. It fails a
// precondition check if no prior OnMaterialize occurred for this key.
func (c *Counter) OnDrop(ref common.DRef) error {
	k := keyOf(ref)
	c.mu.Lock()
	n, ok := c.localHolders[k]
	if !ok || n <= 0 {
		c.mu.Unlock()
		return poolerr.ErrPrecondition
	}
	n--
	if n == 0 {
		delete(c.localHolders, k)
	} else {
		c.localHolders[k] = n
	}
	c.mu.Unlock()

	if n == 0 {
		c.notifier.UnrefAtOwner(ref)
	}
	return nil
}

// LocalHolders returns the current local materialization count for ref
// (0 if untracked). Exposed for tests and the reconciliation sweep.
func (c *Counter) LocalHolders(ref common.DRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localHolders[keyOf(ref)]
}

// TrackedRefs returns every (owner,id) this worker currently holds at least
// one materialization of — used by the reconciliation sweep to re-derive
// ref_at_owner for entries the owner may never have seen.
func (c *Counter) TrackedRefs() []common.DRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.DRef, 0, len(c.localHolders))
	for k := range c.localHolders {
		out = append(out, common.DRef{Owner: k.Owner, ID: k.ID})
	}
	return out
}

// RefAtOwner is the owner-side handler: a worker just first-sighted ref at
// this worker. Counts workers, not materializations (§4.2).
func (c *Counter) RefAtOwner(ref common.DRef) {
	k := keyOf(ref)
	c.mu.Lock()
	c.ownerPops[k]++
	c.mu.Unlock()
}

// UnrefAtOwner is the owner-side handler: a worker's last local
// materialization of ref just dropped.
func (c *Counter) UnrefAtOwner(ref common.DRef) {
	k := keyOf(ref)
	c.mu.Lock()
	n, ok := c.ownerPops[k]
	if !ok {
		c.mu.Unlock()
		return
	}
	n--
	zero := n <= 0
	if zero {
		delete(c.ownerPops, k)
	} else {
		c.ownerPops[k] = n
	}
	c.mu.Unlock()

	if zero && c.OnPopulationZero != nil {
		c.OnPopulationZero(ref.ID)
	}
}

// OwnerPopulations returns the current worker-population count for ref
// (0 if untracked). Exposed for tests.
func (c *Counter) OwnerPopulations(ref common.DRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerPops[keyOf(ref)]
}
