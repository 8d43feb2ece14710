// Package pool is the distributed in-memory object pool core: it wires
// together the DataStore, two-level RefCounter, DerefEngine, LocalityResolver
// and SpillManager described in spec.md into one per-worker Pool, the way
// the teacher repo's NameNode/DataNode wire DataStore-ish maps and RPC
// handlers into one struct per process role. Every worker runs exactly one
// Pool; together they form the peer-to-peer store.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tinypool-io/tinypool/common"
	"github.com/tinypool-io/tinypool/internal/datastore"
	"github.com/tinypool-io/tinypool/internal/locality"
	"github.com/tinypool-io/tinypool/internal/lru"
	"github.com/tinypool-io/tinypool/internal/refcount"
	"github.com/tinypool-io/tinypool/internal/rpctransport"
	"github.com/tinypool-io/tinypool/internal/spill"
)

// Config is the subset of worker configuration the pool core itself needs;
// cmd/tinypoold's internal/config.Config is mapped onto this at startup.
type Config struct {
	SelfID                int
	Peers                 []common.PeerInfo // includes self
	BaseDir               string
	EnableWhoHasRead      bool
	EnableRandomFrefServe bool
	MaxMemSize            int64
	SpillToDisk           bool
	Serializer            Serializer
}

// Pool is one worker's instance of the distributed object pool.
type Pool struct {
	selfID           int
	peers            map[int]string // worker id -> endpoint, includes self
	selfEP           string
	serializer       Serializer
	spillToDisk      bool
	enableWhoHasRead bool

	nextID uint64 // atomic; owner-local id generator

	store     *datastore.Store
	counter   *refcount.Counter
	dialer    *rpctransport.Dialer
	spillMgr  *spill.Manager
	lruPolicy *lru.Policy
	locality  *locality.Resolver
	registry  *Registry

	// fileToDref is read and written from concurrent Get/Delete calls (§5:
	// "guarded by the same lock"), so every access goes through
	// cachedFileRef/cacheFileRef/evictFileRef below rather than touching the
	// map directly.
	fileToDrefMu sync.Mutex
	fileToDref   map[string]*Ref // cache: local file path -> materialized DRef handle owned here
}

// New constructs a Pool for one worker. It does not start an RPC server;
// pair it with net/rpc registration (see cmd/tinypoold) to actually accept
// peer traffic.
func New(cfg Config) (*Pool, error) {
	if cfg.SelfID <= 0 {
		return nil, fmt.Errorf("pool: SelfID must be positive")
	}
	peers := make(map[int]string, len(cfg.Peers))
	var selfEP string
	for _, p := range cfg.Peers {
		peers[p.ID] = p.Endpoint
		if p.ID == cfg.SelfID {
			selfEP = p.Endpoint
		}
	}

	serializer := cfg.Serializer
	if serializer == nil {
		serializer = DefaultSerializer()
	}

	p := &Pool{
		selfID:           cfg.SelfID,
		peers:            peers,
		selfEP:           selfEP,
		serializer:       serializer,
		spillToDisk:      cfg.SpillToDisk,
		enableWhoHasRead: cfg.EnableWhoHasRead,
		store:            datastore.New(),
		dialer:           rpctransport.NewDialer(),
		lruPolicy:        lru.New(cfg.MaxMemSize),
		locality:         locality.New(cfg.EnableRandomFrefServe),
		registry:         newRegistry(),
		fileToDref:       make(map[string]*Ref),
	}
	p.counter = refcount.New(cfg.SelfID, p) // Pool implements refcount.Notifier
	p.counter.OnPopulationZero = p.onPopulationZero
	p.spillMgr = spill.New(p.store, cfg.SelfID, cfg.BaseDir, p.localPayload)
	return p, nil
}

// SelfID returns this worker's id.
func (p *Pool) SelfID() int { return p.selfID }

// ---- Public pool API (§6) ----

// Put stores value, owned by owner (0 or SelfID means "owned locally"), and
// returns a *Ref for the resulting DRef. destroyOnEvict sets the new
// RefState's eviction policy bit (§6 put(value, owner, destroy_on_evict)).
// When owner is a different worker, the value is forwarded there via
// PutRPC and the *Ref returned here is this worker's own materialization
// of the result — the same Materialize path a remote DRef takes anywhere
// else (§4.2, §4.3), so the owner ends up with exactly one population
// member: the caller.
func (p *Pool) Put(value any, owner int, destroyOnEvict bool) (*Ref, error) {
	data, err := p.serializer.Encode(value)
	if err != nil {
		return nil, err
	}
	if owner == 0 || owner == p.selfID {
		return p.putBytes(data, int64(len(data)), destroyOnEvict, "")
	}

	args := common.PutArgs{Data: data, Size: int64(len(data)), DestroyOnEvict: destroyOnEvict}
	var reply common.PutReply
	if err := p.dialer.Call(p.endpointFor(owner), "Pool.PutRPC", args, &reply); err != nil {
		return nil, err
	}
	return p.materialize(reply.Ref), nil
}

// putBytes installs data as a new, locally-owned RefState and materializes
// it for the caller (§6 the local put path).
func (p *Pool) putBytes(data []byte, size int64, destroyOnEvict bool, file string) (*Ref, error) {
	id := p.storeBytes(data, size, destroyOnEvict, file)
	dref := common.DRef{Owner: p.selfID, ID: id, Size: size}
	return p.materialize(dref), nil
}

// storeBytes is the storage-only half of put: it allocates an id and
// installs the RefState, running the lru_free eviction hook first (§4.6,
// §9: "put and local restore call lru_free(size) before allocating"), but
// does not materialize anything. Used directly by PutRPC, which must not
// give the owner its own competing materialization of a value the caller
// is about to materialize itself.
func (p *Pool) storeBytes(data []byte, size int64, destroyOnEvict bool, file string) uint64 {
	p.reclaim(size)
	id := atomic.AddUint64(&p.nextID, 1)
	p.store.Insert(id, datastore.RefState{
		Size:           size,
		Data:           data,
		File:           file,
		DestroyOnEvict: destroyOnEvict,
	})
	if destroyOnEvict {
		p.lruPolicy.Track(id, size)
	}
	return id
}

// reclaim runs the lru_free eviction hook (§4.6, §9) before installing a
// payload of need bytes: it asks the LRU policy for destroy_on_evict
// victims required to stay under max_memsize, then either spills or
// destroys each one depending on spill_to_disk. A victim that fails to
// spill is left tracked so the next reclaim retries it.
func (p *Pool) reclaim(need int64) {
	for _, id := range p.lruPolicy.Free(need) {
		if p.spillToDisk {
			if _, err := p.spillMgr.MoveToDisk(id, "", false); err != nil {
				continue
			}
		} else {
			p.spillMgr.Destroy(id)
		}
		p.lruPolicy.Untrack(id)
	}
}

// Get dereferences ref (a DRef or FRef) and decodes the result into v,
// following the same pointer-target contract as encoding/gob: v must be a
// pointer. For a plain []byte destination, pass *[]byte.
func (p *Pool) Get(ref any, v any) error {
	data, err := p.getBytes(ref)
	if err != nil {
		return err
	}
	return p.serializer.Decode(data, v)
}

// Delete destroys ref regardless of its reference count (a DRef), or
// removes the backing file and evicts the file_to_dref cache entry (an
// FRef). §6.
func (p *Pool) Delete(ref any) error {
	switch r := ref.(type) {
	case common.DRef:
		if r.Owner != p.selfID {
			return p.dialer.Call(p.endpointFor(r.Owner), "Pool.ForceDestroyRPC", r, &common.Ack{})
		}
		p.spillMgr.Destroy(r.ID)
		p.lruPolicy.Untrack(r.ID)
		if p.enableWhoHasRead {
			p.notifyWhoHasReadPrune(r)
		}
		return nil
	case *Ref:
		return p.Delete(r.dref)
	case common.FRef:
		p.evictFileRef(r.File)
		if err := p.spillMgr.DeleteFromDisk(r.File); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("pool: Delete: unsupported ref type %T", ref)
	}
}

// SetDestroyOnEvict updates ref's eviction policy flag, forwarding to the
// owner if ref is not owned here.
func (p *Pool) SetDestroyOnEvict(ref common.DRef, flag bool) error {
	if ref.Owner != p.selfID {
		args := common.SetDestroyOnEvictArgs{Ref: ref, Flag: flag}
		return p.dialer.Call(p.endpointFor(ref.Owner), "Pool.SetDestroyOnEvictRPC", args, &common.Ack{})
	}
	p.store.SetDestroyOnEvict(ref.ID, flag)
	if flag {
		if st, ok := p.store.Lookup(ref.ID); ok {
			p.lruPolicy.Track(ref.ID, st.Size)
		}
	} else {
		p.lruPolicy.Untrack(ref.ID)
	}
	return nil
}

// MoveToDisk spills ref's payload to path (SpillManager.DefaultPath(ref.ID)
// if path == ""), forwarding to the owner if needed.
func (p *Pool) MoveToDisk(ref common.DRef, path string, keepInMemory bool) (common.FRef, error) {
	if ref.Owner != p.selfID {
		args := common.MoveToDiskArgs{Ref: ref, Path: path, KeepInMemory: keepInMemory}
		var reply common.MoveToDiskReply
		if err := p.dialer.Call(p.endpointFor(ref.Owner), "Pool.MoveToDiskRPC", args, &reply); err != nil {
			return common.FRef{}, err
		}
		return reply.File, nil
	}
	resultPath, err := p.spillMgr.MoveToDisk(ref.ID, path, keepInMemory)
	if err != nil {
		return common.FRef{}, err
	}
	if !keepInMemory {
		p.lruPolicy.Untrack(ref.ID)
	}
	return common.FRef{Host: p.selfHost(), File: resultPath, Size: ref.Size}, nil
}

// CopyToDisk is MoveToDisk with keepInMemory=true.
func (p *Pool) CopyToDisk(ref common.DRef, path string) (common.FRef, error) {
	return p.MoveToDisk(ref, path, true)
}

// SaveToDisk writes a user-visible persisted copy without touching
// RefState (§4.6, §9 — intentional).
func (p *Pool) SaveToDisk(ref common.DRef, path string) (common.FRef, error) {
	if ref.Owner != p.selfID {
		args := common.SaveToDiskArgs{Ref: ref, Path: path}
		var reply common.MoveToDiskReply
		if err := p.dialer.Call(p.endpointFor(ref.Owner), "Pool.SaveToDiskRPC", args, &reply); err != nil {
			return common.FRef{}, err
		}
		return reply.File, nil
	}
	if err := p.spillMgr.SaveToDisk(ref.ID, path); err != nil {
		return common.FRef{}, err
	}
	return common.FRef{Host: p.selfHost(), File: path, Size: ref.Size}, nil
}

// DeleteFromDisk removes path, forwarding to the owner if ref is remote.
func (p *Pool) DeleteFromDisk(ref common.DRef, path string) error {
	if ref.Owner != p.selfID {
		args := common.DeleteFromDiskArgs{Ref: ref, Path: path}
		return p.dialer.Call(p.endpointFor(ref.Owner), "Pool.DeleteFromDiskRPC", args, &common.Ack{})
	}
	return p.spillMgr.DeleteFromDisk(path)
}

// Cleanup destroys every id this worker owns and removes its session
// directory (§4.6 cleanup()).
func (p *Pool) Cleanup() {
	p.spillMgr.Cleanup()
	p.dialer.CloseAll()
}

// ---- materialization plumbing shared by Put/Materialize/Clone/drop ----

// materialize wraps dref in a *Ref and runs on_materialize (§4.2).
func (p *Pool) materialize(dref common.DRef) *Ref {
	p.counter.OnMaterialize(dref)
	return newRef(p, dref)
}

// Materialize is the serialization hook's entry point (§4.3): the RPC/
// transport layer, having decoded a DRef from wire bytes without going
// through Put, calls this explicitly so the new materialization is tracked
// and the owner is notified on first sight.
func (p *Pool) Materialize(dref common.DRef) *Ref {
	return p.materialize(dref)
}

func (p *Pool) drop(dref common.DRef) error {
	return p.counter.OnDrop(dref)
}

func (p *Pool) endpointFor(workerID int) string {
	return p.peers[workerID]
}

func (p *Pool) selfHost() string {
	return common.HostOf(p.selfEP)
}

// localPayload returns the raw (still serializer-encoded) bytes for a
// locally-owned id, restoring from disk if needed. It is the Getter the
// SpillManager uses to fetch a payload before writing it out (§4.6).
func (p *Pool) localPayload(id uint64) ([]byte, error) {
	return p.getLocal(id, false)
}

// cachedFileRef, cacheFileRef and evictFileRef are the only ways
// fileToDref may be touched (§5: "guarded by the same lock") — concurrent
// Get/Delete calls on different FRefs would otherwise race on the bare map.
func (p *Pool) cachedFileRef(file string) (*Ref, bool) {
	p.fileToDrefMu.Lock()
	defer p.fileToDrefMu.Unlock()
	ref, ok := p.fileToDref[file]
	return ref, ok
}

func (p *Pool) cacheFileRef(file string, ref *Ref) {
	p.fileToDrefMu.Lock()
	defer p.fileToDrefMu.Unlock()
	p.fileToDref[file] = ref
}

func (p *Pool) evictFileRef(file string) {
	p.fileToDrefMu.Lock()
	defer p.fileToDrefMu.Unlock()
	delete(p.fileToDref, file)
}
