package pool

import (
	"log/slog"

	"github.com/tinypool-io/tinypool/common"
)

// This file is the peer-to-peer RPC surface (§6 "Remote endpoints"): every
// exported method here is registered once per process via rpc.Register(p)
// in cmd/tinypoold, mirroring the teacher's NameNode/DataNode — the struct
// that holds the state IS the RPC receiver, methods take (args, *reply).

// RefAtOwnerRPC is the wire entry point for a remote worker's first-sight
// notification. Fire-and-forget on the caller's side (internal/rpctransport
// Dialer.Go); the owner applies it synchronously.
func (p *Pool) RefAtOwnerRPC(args common.RefNotification, reply *common.Ack) error {
	p.counter.RefAtOwner(args.Ref)
	reply.OK = true
	return nil
}

// UnrefAtOwnerRPC is the wire entry point for a remote worker's last-drop
// notification.
func (p *Pool) UnrefAtOwnerRPC(args common.RefNotification, reply *common.Ack) error {
	p.counter.UnrefAtOwner(args.Ref)
	reply.OK = true
	return nil
}

// GetLocalRPC answers a remote Get for an id this worker owns: _get_local
// with remote=true (§4.4).
func (p *Pool) GetLocalRPC(args common.GetLocalArgs, reply *common.GetLocalReply) error {
	data, err := p.getLocal(args.ID, true)
	if fref, ok := asFRefResult(err); ok {
		reply.IsFRef = true
		reply.File = fref
		return nil
	}
	if err != nil {
		return err
	}
	reply.Payload = data
	return nil
}

// PutRPC answers a remote put(value, owner) targeting this worker (§6): it
// stores the payload without materializing it, leaving the caller's own
// subsequent Materialize(reply.Ref) as the sole reference-count holder —
// an ephemeral *Ref created and dropped here would be at the mercy of GC
// finalization timing and could destroy the value before the caller ever
// sees it.
func (p *Pool) PutRPC(args common.PutArgs, reply *common.PutReply) error {
	id := p.storeBytes(args.Data, args.Size, args.DestroyOnEvict, args.File)
	reply.Ref = common.DRef{Owner: p.selfID, ID: id, Size: args.Size}
	return nil
}

// ForceDestroyRPC destroys ref regardless of reference count, on its owner.
func (p *Pool) ForceDestroyRPC(args common.DRef, reply *common.Ack) error {
	p.spillMgr.Destroy(args.ID)
	p.lruPolicy.Untrack(args.ID)
	if p.enableWhoHasRead {
		p.notifyWhoHasReadPrune(args)
	}
	reply.OK = true
	return nil
}

// SetDestroyOnEvictRPC forwards SetDestroyOnEvict to the owner.
func (p *Pool) SetDestroyOnEvictRPC(args common.SetDestroyOnEvictArgs, reply *common.Ack) error {
	reply.OK = true
	return p.SetDestroyOnEvict(args.Ref, args.Flag)
}

// MoveToDiskRPC forwards MoveToDisk to the owner.
func (p *Pool) MoveToDiskRPC(args common.MoveToDiskArgs, reply *common.MoveToDiskReply) error {
	fref, err := p.MoveToDisk(args.Ref, args.Path, args.KeepInMemory)
	if err != nil {
		return err
	}
	reply.File = fref
	return nil
}

// SaveToDiskRPC forwards SaveToDisk to the owner.
func (p *Pool) SaveToDiskRPC(args common.SaveToDiskArgs, reply *common.MoveToDiskReply) error {
	fref, err := p.SaveToDisk(args.Ref, args.Path)
	if err != nil {
		return err
	}
	reply.File = fref
	return nil
}

// DeleteFromDiskRPC forwards DeleteFromDisk to the owner.
func (p *Pool) DeleteFromDiskRPC(args common.DeleteFromDiskArgs, reply *common.Ack) error {
	reply.OK = true
	return p.DeleteFromDisk(args.Ref, args.Path)
}

// DeserializeFileRPC answers a locality-routed FRef fetch: read and
// decompress the file this worker shares disk with and ship its payload
// back, without installing any local materialization of its own (§4.4, §4.5).
func (p *Pool) DeserializeFileRPC(args common.DeserializeFileArgs, reply *common.DeserializeFileReply) error {
	data, err := p.spillMgr.RestoreFromDisk(args.File)
	if err != nil {
		return err
	}
	reply.Payload = data
	return nil
}

// GetWrkrIPsRPC answers the coordinator's topology query (§4.5). Peers ask
// common.CoordinatorWorkerID, but any worker gives the same answer, since it
// is derived from the static peer list every worker is started with.
func (p *Pool) GetWrkrIPsRPC(args common.Empty, reply *common.WrkrIPsReply) error {
	reply.IPToWorkers = p.registry.WrkrIPs(p.peers)
	return nil
}

// ExternalIPRPC answers a loopback-reconciliation probe (§4.5) with the host
// part of this worker's configured endpoint. It looks up no other address:
// a worker configured on 127.0.0.1 answers 127.0.0.1, and the resolver then
// leaves its loopback bucket as it is.
func (p *Pool) ExternalIPRPC(args common.Empty, reply *string) error {
	*reply = p.selfHost()
	return nil
}

// WhoHasReadRPC records a read-locality hint on the coordinator's registry.
func (p *Pool) WhoHasReadRPC(args common.WhoHasReadArgs, reply *common.Ack) error {
	p.registry.Record(args.File, args.Ref)
	reply.OK = true
	return nil
}

// ---- refcount.Notifier: dispatch local vs remote without the Counter
// needing to know which (§4.2, §5) ----

// RefAtOwner implements refcount.Notifier for this Pool: deliver locally if
// we are the owner, otherwise fire-and-forget over RPC.
func (p *Pool) RefAtOwner(ref common.DRef) {
	if ref.Owner == p.selfID {
		p.counter.RefAtOwner(ref)
		return
	}
	p.dialer.Go(p.endpointFor(ref.Owner), "Pool.RefAtOwnerRPC", common.RefNotification{Ref: ref}, &common.Ack{})
}

// UnrefAtOwner implements refcount.Notifier.
func (p *Pool) UnrefAtOwner(ref common.DRef) {
	if ref.Owner == p.selfID {
		p.counter.UnrefAtOwner(ref)
		return
	}
	p.dialer.Go(p.endpointFor(ref.Owner), "Pool.UnrefAtOwnerRPC", common.RefNotification{Ref: ref}, &common.Ack{})
}

// onPopulationZero is wired to Counter.OnPopulationZero at construction: an
// owner_populations entry hit zero, so the RefState must be destroyed (§4.2)
// and, when who_has_read is enabled, pruned from the coordinator's registry.
func (p *Pool) onPopulationZero(id uint64) {
	st, ok := p.store.Lookup(id)
	p.spillMgr.Destroy(id)
	p.lruPolicy.Untrack(id)
	if ok && p.enableWhoHasRead {
		p.notifyWhoHasReadPrune(common.DRef{Owner: p.selfID, ID: id, Size: st.Size})
	}
}

// ---- reconcile.Prober / reconcile.Resender ----

// OwnerKnowsUs implements reconcile.Prober: asks ref's owner whether it
// currently counts this worker among ref's population.
func (p *Pool) OwnerKnowsUs(ref common.DRef) (known bool, reachable bool) {
	if ref.Owner == p.selfID {
		return p.counter.OwnerPopulations(ref) > 0, true
	}
	var reply common.Ack
	if err := p.dialer.Call(p.endpointFor(ref.Owner), "Pool.OwnerKnowsUsRPC", ref, &reply); err != nil {
		slog.Debug("reconcile: probe failed", "owner", ref.Owner, "id", ref.ID, "err", err)
		return false, false
	}
	return reply.OK, true
}

// OwnerKnowsUsRPC is the wire side of OwnerKnowsUs. The Counter's
// owner_populations table counts distinct holding workers but not their
// identities, so this can only answer "does the owner count anyone at all
// for ref" — enough to catch the case the sweep cares about: a first-sight
// notification that never arrived leaves the population at zero when it
// should be at least one.
func (p *Pool) OwnerKnowsUsRPC(args common.DRef, reply *common.Ack) error {
	reply.OK = p.counter.OwnerPopulations(args) > 0
	return nil
}

// ResendRefAtOwner implements reconcile.Resender: re-emit ref_at_owner for a
// ref this worker still holds, per the sweep's reachability check.
func (p *Pool) ResendRefAtOwner(ref common.DRef) {
	p.RefAtOwner(ref)
}

// Tracked exposes the Counter's TrackedRefs for reconcile.Sweeper wiring.
func (p *Pool) Tracked() []common.DRef {
	return p.counter.TrackedRefs()
}
