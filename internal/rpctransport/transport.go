// Package rpctransport is the peer-to-peer transport the pool core treats
// as an external collaborator (§1 "Out of scope"): net/rpc over HTTP,
// exactly as the teacher dials NameNode/DataNode, but with dialed
// connections cached per endpoint instead of redialing on every call.
package rpctransport

import (
	"net/rpc"
	"sync"

	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// Dialer caches one *rpc.Client per endpoint, redialing lazily if a prior
// connection went bad.
type Dialer struct {
	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewDialer creates an empty connection cache.
func NewDialer() *Dialer {
	return &Dialer{clients: make(map[string]*rpc.Client)}
}

// Client returns a cached or freshly-dialed *rpc.Client for endpoint.
func (d *Dialer) Client(endpoint string) (*rpc.Client, error) {
	d.mu.Lock()
	if c, ok := d.clients[endpoint]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	c, err := rpc.DialHTTP("tcp", endpoint)
	if err != nil {
		return nil, poolerr.Transport(err)
	}

	d.mu.Lock()
	if existing, ok := d.clients[endpoint]; ok {
		// Lost the race to another dialer; keep the winner, close ours.
		d.mu.Unlock()
		c.Close()
		return existing, nil
	}
	d.clients[endpoint] = c
	d.mu.Unlock()
	return c, nil
}

// Call performs a synchronous RPC against endpoint, evicting the cached
// client on failure so the next call redials (a dead connection is worse
// than a redial). An rpc.ServerError means the remote handler ran and
// returned a business error (e.g. missing-ref) — that is not a transport
// failure, so it is passed through unwrapped for poolerr.Classify's
// string fallback to re-derive the real Kind (§7: callers cannot tell
// local from remote miss).
func (d *Dialer) Call(endpoint, serviceMethod string, args, reply any) error {
	c, err := d.Client(endpoint)
	if err != nil {
		return err
	}
	if err := c.Call(serviceMethod, args, reply); err != nil {
		if _, ok := err.(rpc.ServerError); ok {
			return err
		}
		d.evict(endpoint)
		return poolerr.Transport(err)
	}
	return nil
}

// Go performs a fire-and-forget asynchronous RPC: it returns immediately and
// the reply is awaited only by a background goroutine, which evicts the
// cached client if the call failed. Used
// for ref_at_owner/unref_at_owner notifications (§4.2, §5), which the spec
// requires to be best-effort with no retry.
func (d *Dialer) Go(endpoint, serviceMethod string, args, reply any) {
	c, err := d.Client(endpoint)
	if err != nil {
		return
	}
	call := c.Go(serviceMethod, args, reply, nil)
	go func() {
		if res := <-call.Done; res.Error != nil {
			d.evict(endpoint)
		}
	}()
}

func (d *Dialer) evict(endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[endpoint]; ok {
		c.Close()
		delete(d.clients, endpoint)
	}
}

// CloseAll closes every cached connection.
func (d *Dialer) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for endpoint, c := range d.clients {
		c.Close()
		delete(d.clients, endpoint)
	}
}
