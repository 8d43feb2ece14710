// Package lru wires the lru_touch/lru_free hooks named in spec.md §4.6 and
// §9 ("Open questions") to a real access-ordered structure instead of
// leaving them as no-op scaffolding. It tracks destroy_on_evict candidates
// only, as the spec requires, and is a policy *hint*: the caller decides
// whether a chosen victim is destroyed or spilled to disk.
package lru

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Policy tracks local ids in access order, restricted to destroy_on_evict
// refs. It is safe for concurrent use.
type Policy struct {
	mu        sync.Mutex
	order     *linkedhashmap.Map // id -> size, in access order (oldest first)
	maxMemory int64 // advisory cap; 0 means "no active eviction"
	used      int64
}

// New creates a Policy. maxMemory is the advisory memsize cap (§6
// max_memsize); zero disables eviction decisions (Free always returns nil),
// matching §9's "either wire it up or document that memory pressure is the
// caller's problem" — here it is wired up, but only engages when a cap was
// actually configured.
func New(maxMemory int64) *Policy {
	return &Policy{
		order:     linkedhashmap.New(),
		maxMemory: maxMemory,
	}
}

// Track registers id as a destroy_on_evict candidate of the given size,
// counting it toward the advisory memory usage. Call this whenever a
// RefState with DestroyOnEvict=true gains an in-memory payload (put,
// restore-from-disk, or set_destroy_on_evict flips true while data is
// present).
func (p *Policy) Track(id uint64, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.order.Get(id); !ok {
		p.used += size
	}
	p.order.Put(id, size)
}

// Untrack removes id from consideration (destroy_on_evict flipped false,
// the ref was destroyed, or its payload was evicted/spilled already).
func (p *Policy) Untrack(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.order.Get(id); ok {
		p.used -= v.(int64)
		p.order.Remove(id)
	}
}

// Touch moves id to the most-recently-used position (lru_touch). A no-op if
// id is not tracked.
func (p *Policy) Touch(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.order.Get(id); ok {
		p.order.Remove(id)
		p.order.Put(id, v)
	}
}

// Free (lru_free) returns the ids of the least-recently-used tracked
// payloads whose cumulative size is enough to bring usage plus `need` back
// under the configured cap, oldest first. It does not mutate the policy's
// bookkeeping itself — the caller evicts/spills each returned id and then
// calls Untrack, so a failed eviction doesn't silently desync accounting.
// Returns nil immediately if no cap is configured or usage already fits.
func (p *Policy) Free(need int64) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxMemory <= 0 {
		return nil
	}
	projected := p.used + need
	if projected <= p.maxMemory {
		return nil
	}
	var victims []uint64
	it := p.order.Iterator()
	for it.Next() {
		if projected <= p.maxMemory {
			break
		}
		id := it.Key().(uint64)
		size := it.Value().(int64)
		victims = append(victims, id)
		projected -= size
	}
	return victims
}
