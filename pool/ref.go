package pool

import (
	"runtime"
	"sync"

	"github.com/tinypool-io/tinypool/common"
)

// Ref is one materialization of a DRef at this worker (§3 "each
// materialization at a worker holds exactly one local reference count
// there"). Go has no destructors, so per the Design Notes (§9) every DRef
// that crosses into this worker's process — via Put, via Materialize (the
// serialization hook, called by the RPC layer when a DRef arrives from a
// peer), or via explicit Clone — is paired with a *Ref: a scoped owner
// whose Close runs on_drop exactly once, with a runtime finalizer as a
// backstop for callers that forget, approximating the finalizer-based
// design the original relies on.
//
// The zero value is not usable; obtain a *Ref only from Pool methods.
type Ref struct {
	pool *Pool
	dref common.DRef

	once sync.Once
}

// Value returns the underlying DRef identity — the wire-safe value to hand
// to another worker (e.g. as an RPC argument, or embedded in a payload the
// external serializer encodes). Handing out the value does not itself
// create a new materialization; the receiving side must call
// Pool.Materialize once it has decoded the bytes.
func (r *Ref) Value() common.DRef { return r.dref }

// Clone creates a second, independent materialization of the same DRef at
// this worker (e.g. storing the reference in a second container). Per §4.2
// this increments local_holders without notifying the owner again, because
// the owner was already notified by whichever materialization came first.
func (r *Ref) Clone() *Ref {
	return r.pool.materialize(r.dref)
}

// Close finalizes this materialization (on_drop, §4.2). Idempotent: a
// second Close is a no-op. Safe to call from any goroutine.
func (r *Ref) Close() error {
	var err error
	r.once.Do(func() {
		runtime.SetFinalizer(r, nil)
		err = r.pool.drop(r.dref)
	})
	return err
}

func newRef(p *Pool, dref common.DRef) *Ref {
	r := &Ref{pool: p, dref: dref}
	runtime.SetFinalizer(r, func(r *Ref) { _ = r.Close() })
	return r
}
