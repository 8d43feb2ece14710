package pool

import (
	"sync"

	"github.com/tinypool-io/tinypool/common"
)

// Registry is the coordinator-only bookkeeping named in spec.md §4.5/§9:
// the static ip -> worker-ids topology (derived from cluster membership,
// not maintained dynamically) and the optional who_has_read debug registry
// (which files have been materialized where, pruned on destroy). Every
// worker holds a Registry, but only the one running as
// common.CoordinatorWorkerID is ever asked to answer for it.
type Registry struct {
	mu         sync.Mutex
	whoHasRead map[string]map[common.DRef]struct{} // file -> readers
}

func newRegistry() *Registry {
	return &Registry{whoHasRead: make(map[string]map[common.DRef]struct{})}
}

// WrkrIPs derives the ip -> worker-ids topology straight from cluster
// membership (§4.5): it is static for the lifetime of the cluster, so there
// is nothing to "maintain" beyond what the coordinator was started with.
func (r *Registry) WrkrIPs(peers map[int]string) map[string][]int {
	out := make(map[string][]int)
	for id, endpoint := range peers {
		ip := common.HostOf(endpoint)
		out[ip] = append(out[ip], id)
	}
	return out
}

// Record notes that ref (materialized from file) now lives at the reading
// worker (enable_who_has_read, §9 supplemented feature: "wire it, don't
// stub it").
func (r *Registry) Record(file string, ref common.DRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	readers, ok := r.whoHasRead[file]
	if !ok {
		readers = make(map[common.DRef]struct{})
		r.whoHasRead[file] = readers
	}
	readers[ref] = struct{}{}
}

// Prune removes ref from every file's reader set, called when ref is
// destroyed (explicit delete, or its owner population reaching zero) so the
// debug registry never reports a reader that no longer exists.
func (r *Registry) Prune(ref common.DRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for file, readers := range r.whoHasRead {
		if _, ok := readers[ref]; ok {
			delete(readers, ref)
			if len(readers) == 0 {
				delete(r.whoHasRead, file)
			}
		}
	}
}

// ReadersOf returns the workers known to have read file, for diagnostics.
func (r *Registry) ReadersOf(file string) []common.DRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	readers := r.whoHasRead[file]
	out := make([]common.DRef, 0, len(readers))
	for ref := range readers {
		out = append(out, ref)
	}
	return out
}

// notifyWhoHasReadRecord tells the coordinator (directly if we are it,
// otherwise via RPC, best-effort) that ref was just materialized from file.
func (p *Pool) notifyWhoHasReadRecord(file string, ref common.DRef) {
	if p.selfID == common.CoordinatorWorkerID {
		p.registry.Record(file, ref)
		return
	}
	args := common.WhoHasReadArgs{File: file, Ref: ref}
	p.dialer.Go(p.endpointFor(common.CoordinatorWorkerID), "Pool.WhoHasReadRPC", args, &common.Ack{})
}

// notifyWhoHasReadPrune tells the coordinator ref no longer exists.
func (p *Pool) notifyWhoHasReadPrune(ref common.DRef) {
	if p.selfID == common.CoordinatorWorkerID {
		p.registry.Prune(ref)
		return
	}
	p.dialer.Go(p.endpointFor(common.CoordinatorWorkerID), "Pool.PruneWhoHasReadRPC", ref, &common.Ack{})
}

// PruneWhoHasReadRPC is the wire side of notifyWhoHasReadPrune for a remote
// coordinator.
func (p *Pool) PruneWhoHasReadRPC(args common.DRef, reply *common.Ack) error {
	p.registry.Prune(args)
	reply.OK = true
	return nil
}
