package pool

import (
	"fmt"

	"github.com/tinypool-io/tinypool/common"
	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// getBytes implements get(ref) (§4.4) down to the raw, still
// serializer-encoded payload; Get decodes it into the caller's v.
func (p *Pool) getBytes(ref any) ([]byte, error) {
	switch r := ref.(type) {
	case *Ref:
		return p.getBytes(r.dref)
	case common.DRef:
		return p.getDRefBytes(r)
	case common.FRef:
		return p.getFRefBytes(r)
	default:
		return nil, fmt.Errorf("pool: Get: unsupported ref type %T", ref)
	}
}

func (p *Pool) getDRefBytes(r common.DRef) ([]byte, error) {
	if r.Owner == p.selfID {
		return p.getLocal(r.ID, false)
	}

	args := common.GetLocalArgs{ID: r.ID}
	var reply common.GetLocalReply
	if err := p.dialer.Call(p.endpointFor(r.Owner), "Pool.GetLocalRPC", args, &reply); err != nil {
		return nil, err
	}
	if reply.IsFRef {
		// Owner had it spilled: fetch the file bytes ourselves via the
		// locality resolver rather than have the owner materialize a large
		// value into memory solely to ship it (§4.4).
		return p.getFRefBytes(reply.File)
	}
	return reply.Payload, nil
}

// getLocal is _get_local(id, remote) (§4.4). Locking is confined to the
// DataStore's own entry points; restore-from-disk reads happen outside any
// lock and are installed afterward (§5).
func (p *Pool) getLocal(id uint64, remote bool) ([]byte, error) {
	st, ok := p.store.Lookup(id)
	if !ok {
		return nil, poolerr.ErrMissingRef
	}

	if remote {
		if st.HasFile() {
			return nil, errFRefResult{common.FRef{Host: p.selfHost(), File: st.File, Size: st.Size}}
		}
		if st.HasData() {
			return st.Data, nil
		}
		return nil, fmt.Errorf("pool: invariant violation: id %d has neither data nor file", id)
	}

	if st.HasData() {
		p.lruPolicy.Touch(id)
		return st.Data, nil
	}
	if st.HasFile() {
		data, err := p.spillMgr.RestoreFromDisk(st.File)
		if err != nil {
			return nil, err
		}
		p.reclaim(st.Size)
		p.store.RestoreMemory(id, data)
		if st.DestroyOnEvict {
			p.lruPolicy.Track(id, st.Size)
		}
		p.lruPolicy.Touch(id)
		return data, nil
	}
	return nil, fmt.Errorf("pool: invariant violation: id %d has neither data nor file", id)
}

// errFRefResult is a local sentinel for getLocal's remote=true FRef case;
// callers inside this package unwrap it with asFRefResult. It never crosses
// an RPC boundary unwrapped — Pool.GetLocalRPC translates it into a
// GetLocalReply with IsFRef set instead of propagating the error.
type errFRefResult struct{ fref common.FRef }

func (e errFRefResult) Error() string {
	return fmt.Sprintf("spilled, fetch via FRef %+v", e.fref)
}

func asFRefResult(err error) (common.FRef, bool) {
	if e, ok := err.(errFRefResult); ok {
		return e.fref, true
	}
	return common.FRef{}, false
}

// getFRefBytes implements the FRef dereference path (§4.4 "For an FRef r").
func (p *Pool) getFRefBytes(r common.FRef) ([]byte, error) {
	if cached, ok := p.cachedFileRef(r.File); ok {
		return p.getLocal(cached.dref.ID, false)
	}

	var raw []byte
	if r.Host == p.selfHost() {
		data, err := p.spillMgr.RestoreFromDisk(r.File)
		if err != nil {
			return nil, err
		}
		raw = data
	} else {
		if err := p.ensureLocalitySeeded(); err != nil {
			return nil, err
		}
		worker, ok := p.locality.WorkerAt(r.Host)
		if !ok {
			return nil, fmt.Errorf("pool: no known worker co-located with host %q", r.Host)
		}
		args := common.DeserializeFileArgs{File: r.File, Size: r.Size}
		var reply common.DeserializeFileReply
		if err := p.dialer.Call(p.endpointFor(worker), "Pool.DeserializeFileRPC", args, &reply); err != nil {
			return nil, err
		}
		raw = reply.Payload
	}

	ref, err := p.putBytes(raw, r.Size, false, r.File)
	if err != nil {
		return nil, err
	}
	p.cacheFileRef(r.File, ref)
	if p.enableWhoHasRead {
		p.notifyWhoHasReadRecord(r.File, ref.dref)
	}
	return raw, nil
}

// ensureLocalitySeeded lazily populates the LocalityResolver from the
// coordinator on first use (§4.5).
func (p *Pool) ensureLocalitySeeded() error {
	if p.locality.Seeded() {
		return nil
	}
	var reply common.WrkrIPsReply
	if err := p.dialer.Call(p.endpointFor(common.CoordinatorWorkerID), "Pool.GetWrkrIPsRPC", common.Empty{}, &reply); err != nil {
		return err
	}
	p.locality.Seed(reply.IPToWorkers)
	if p.locality.NeedsLoopbackReconciliation() {
		loopbackWorkers := p.locality.WorkersAt("127.0.0.1")
		if len(loopbackWorkers) > 0 {
			var ipReply string
			if err := p.dialer.Call(p.endpointFor(loopbackWorkers[0]), "Pool.ExternalIPRPC", common.Empty{}, &ipReply); err == nil && ipReply != "" {
				p.locality.Reconcile(ipReply)
			}
		}
	}
	return nil
}
