// Package locality implements the LocalityResolver (§4.5): mapping an IP to
// the worker ids co-located with it, with loopback reconciliation, used to
// route FRef fetches to a peer sharing the file's disk.
package locality

import (
	"math/rand"
	"sync"

	"github.com/google/btree"
)

// workerIDItem is a btree.Item wrapping a worker id so per-IP buckets stay
// sorted, giving the "lowest worker id per IP" deterministic-selection rule
// an O(log n) Min() instead of a linear scan over an unsorted slice.
type workerIDItem int

func (a workerIDItem) Less(than btree.Item) bool {
	return a < than.(workerIDItem)
}

// Resolver is the per-worker LocalityResolver. Its cache is populated on
// first use by asking the coordinator for a full ip -> [worker ids] map
// (Seed), then optionally reconciled to fold 127.0.0.1 into the
// coordinator's real external IP.
type Resolver struct {
	randomized bool

	mu       sync.Mutex
	byIP     map[string]*btree.BTree
	seeded   bool
}

// New creates a Resolver. randomized mirrors enable_random_fref_serve: when
// true, any worker on the target IP is a fetch candidate; when false, only
// the lowest worker id per IP is kept.
func New(randomized bool) *Resolver {
	return &Resolver{
		randomized: randomized,
		byIP:       make(map[string]*btree.BTree),
	}
}

// Seed installs the coordinator's ip -> worker-ids map, replacing whatever
// was cached before. Construction rules from §4.5: when randomized serving
// is off, only the lowest worker id per IP survives.
func (r *Resolver) Seed(ipToWorkers map[string][]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIP = make(map[string]*btree.BTree, len(ipToWorkers))
	for ip, workers := range ipToWorkers {
		bt := btree.New(8)
		for _, w := range workers {
			bt.ReplaceOrInsert(workerIDItem(w))
		}
		if !r.randomized && bt.Len() > 1 {
			min := bt.Min().(workerIDItem)
			bt = btree.New(8)
			bt.ReplaceOrInsert(min)
		}
		r.byIP[ip] = bt
	}
	r.seeded = true
}

// Seeded reports whether Seed has ever been called.
func (r *Resolver) Seeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seeded
}

// Reconcile folds a loopback bucket into externalIP's bucket and deletes the
// loopback key, per §4.5's loopback-reconciliation rule: this only makes
// sense to call when 127.0.0.1 maps to workers AND more than one IP key
// exists; the caller (Resolver.NeedsLoopbackReconciliation) decides that.
// An externalIP of 127.0.0.1 itself leaves the resolver unchanged.
func (r *Resolver) Reconcile(externalIP string) {
	if externalIP == "127.0.0.1" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	loop, ok := r.byIP["127.0.0.1"]
	if !ok {
		return
	}
	target, ok := r.byIP[externalIP]
	if !ok {
		target = btree.New(8)
		r.byIP[externalIP] = target
	}
	loop.Ascend(func(item btree.Item) bool {
		target.ReplaceOrInsert(item)
		return true
	})
	delete(r.byIP, "127.0.0.1")
}

// NeedsLoopbackReconciliation reports whether 127.0.0.1 is present as a key
// and at least one other IP key also exists — the precondition for
// Reconcile, and the invariant tested by S6/invariant 6.
func (r *Resolver) NeedsLoopbackReconciliation() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, hasLoopback := r.byIP["127.0.0.1"]
	return hasLoopback && len(r.byIP) > 1
}

// WorkersAt returns the worker ids co-located with ip, ascending.
func (r *Resolver) WorkersAt(ip string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	bt, ok := r.byIP[ip]
	if !ok {
		return nil
	}
	out := make([]int, 0, bt.Len())
	bt.Ascend(func(item btree.Item) bool {
		out = append(out, int(item.(workerIDItem)))
		return true
	})
	return out
}

// WorkerAt picks one worker co-located with ip. When randomized is enabled
// it picks uniformly at random among all candidates; otherwise it returns
// the (already deterministic) lowest worker id.
func (r *Resolver) WorkerAt(ip string) (int, bool) {
	workers := r.WorkersAt(ip)
	if len(workers) == 0 {
		return 0, false
	}
	if !r.randomized {
		return workers[0], true
	}
	return workers[rand.Intn(len(workers))], true
}
