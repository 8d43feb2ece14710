// Package datastore implements the per-process map from local id to
// RefState (§3, §4.1). All access is serialized through the Store's own
// (non-reentrant) mutex; callers outside this package must go through the
// well-known entry points (MarkSpilled, EvictMemory, RestoreMemory,
// SetDestroyOnEvict) rather than mutating a looked-up RefState directly.
package datastore

import "sync"

// RefState is the owner-side record for a live DRef.
type RefState struct {
	Size           int64
	Data           []byte // present (non-nil) or absent
	File           string // present (non-empty) or absent
	DestroyOnEvict bool
}

// HasData reports whether the in-memory payload is present.
func (s RefState) HasData() bool { return s.Data != nil }

// HasFile reports whether an on-disk copy is present.
func (s RefState) HasFile() bool { return s.File != "" }

// Store is the per-worker map from local id to RefState, guarded by its own
// mutex. The RefCounter tables live alongside this in the Pool type and are
// guarded by the Counter's separate mutex; no lock spans both.
type Store struct {
	mu    sync.Mutex
	states map[uint64]*RefState
}

// New creates an empty DataStore.
func New() *Store {
	return &Store{states: make(map[uint64]*RefState)}
}

// Insert adds a new RefState under id. Callers own id uniqueness.
func (s *Store) Insert(id uint64, state RefState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := state
	s.states[id] = &st
}

// Lookup returns a copy of the RefState for id, or ok=false if absent.
// The returned value is a snapshot: mutate it only through the entry
// points below, never by writing back into the store.
func (s *Store) Lookup(id uint64) (RefState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return RefState{}, false
	}
	cp := *st
	if st.Data != nil {
		cp.Data = make([]byte, len(st.Data))
		copy(cp.Data, st.Data)
	}
	return cp, true
}

// Remove deletes id's RefState, if present. Idempotent.
func (s *Store) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
}

// Keys returns every local id currently tracked. Order is unspecified.
func (s *Store) Keys() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
}

// MarkSpilled records that id's payload has been written to path and, unless
// keepInMemory, clears the in-memory copy (§4.6 move_to_disk/copy_to_disk).
func (s *Store) MarkSpilled(id uint64, path string, keepInMemory bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return
	}
	st.File = path
	if !keepInMemory {
		st.Data = nil
	}
}

// EvictMemory drops the in-memory copy for id without touching File; the
// caller (SpillManager/LRU policy) is responsible for having already
// ensured File is set, or for destroy_on_evict semantics where losing Data
// with no File is acceptable because the whole RefState is about to be
// destroyed.
func (s *Store) EvictMemory(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.Data = nil
	}
}

// RestoreMemory installs a freshly-deserialized payload for id (the lazy
// restore path, §4.4). Last-writer-wins is acceptable here: two concurrent
// restores may duplicate work but the payload is logically immutable.
func (s *Store) RestoreMemory(id uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.Data = data
	}
}

// SetDestroyOnEvict updates id's eviction policy bit.
func (s *Store) SetDestroyOnEvict(id uint64, flag bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.DestroyOnEvict = flag
	}
}
