package pool

import (
	"net"
	"net/http"
	"net/rpc"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinypool-io/tinypool/common"
	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// startWorker brings up a real net/rpc-over-HTTP server for a Pool on a
// loopback port, the same wiring cmd/tinypoold does, so these tests exercise
// the actual peer-to-peer RPC paths rather than calling methods directly.
func startWorker(t *testing.T, id int, peers []common.PeerInfo) *Pool {
	t.Helper()
	p, err := New(Config{SelfID: id, Peers: peers, BaseDir: t.TempDir()})
	require.NoError(t, err)

	srv := rpc.NewServer()
	require.NoError(t, srv.Register(p))
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, srv)

	for _, peer := range peers {
		if peer.ID == id {
			l, err := net.Listen("tcp", peer.Endpoint)
			require.NoError(t, err)
			t.Cleanup(func() { l.Close() })
			go http.Serve(l, mux)
		}
	}
	t.Cleanup(p.Cleanup)
	return p
}

// reservePeers allocates loopback listeners to learn real ports up front, so
// every worker's Config.Peers can be built before any server starts.
func reservePeers(t *testing.T, ids ...int) []common.PeerInfo {
	t.Helper()
	peers := make([]common.PeerInfo, 0, len(ids))
	for _, id := range ids {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		peers = append(peers, common.PeerInfo{ID: id, Endpoint: l.Addr().String()})
		l.Close() // release; startWorker rebinds the same address
	}
	return peers
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	peers := reservePeers(t, 1)
	p := startWorker(t, 1, peers)

	ref, err := p.Put([]byte("hello"), 0, false)
	require.NoError(t, err)
	defer ref.Close()

	var out []byte
	require.NoError(t, p.Get(ref, &out))
	assert.Equal(t, []byte("hello"), out)
}

func TestRemoteGetFetchesFromOwner(t *testing.T) {
	peers := reservePeers(t, 1, 2)
	p1 := startWorker(t, 1, peers)
	p2 := startWorker(t, 2, peers)

	ref, err := p1.Put([]byte("owned-by-one"), 0, false)
	require.NoError(t, err)
	defer ref.Close()

	r2 := p2.Materialize(ref.Value())
	defer r2.Close()

	var out []byte
	require.NoError(t, p2.Get(r2, &out))
	assert.Equal(t, []byte("owned-by-one"), out)
}

func TestForceDestroyRemovesRefEvenWithLiveHolders(t *testing.T) {
	peers := reservePeers(t, 1, 2)
	p1 := startWorker(t, 1, peers)
	p2 := startWorker(t, 2, peers)

	ref, err := p1.Put([]byte("to-be-destroyed"), 0, false)
	require.NoError(t, err)
	dref := ref.Value()

	r2 := p2.Materialize(dref)
	defer r2.Close()

	require.NoError(t, p2.Delete(dref))

	var out []byte
	err = p1.Get(dref, &out)
	require.Error(t, err)
	assert.Equal(t, poolerr.KindMissingRef, poolerr.Classify(err))
}

func TestLastDropEventuallyDestroysOwnedRef(t *testing.T) {
	peers := reservePeers(t, 1, 2)
	p1 := startWorker(t, 1, peers)
	p2 := startWorker(t, 2, peers)

	ref, err := p1.Put([]byte("refcounted"), 0, false)
	require.NoError(t, err)
	dref := ref.Value()

	r2 := p2.Materialize(dref)
	var out []byte
	require.NoError(t, p2.Get(r2, &out))

	require.NoError(t, ref.Close())
	require.NoError(t, r2.Close())

	// ref_at_owner/unref_at_owner are fire-and-forget RPCs (§5); give them a
	// moment to land before asserting the owner population reached zero.
	require.Eventually(t, func() bool {
		var out []byte
		return p1.Get(dref, &out) != nil
	}, 2*time.Second, 20*time.Millisecond, "owner should eventually destroy a ref once every holder has dropped it")
}

func TestMoveToDiskThenGetRestoresLazily(t *testing.T) {
	peers := reservePeers(t, 1)
	p := startWorker(t, 1, peers)

	ref, err := p.Put([]byte("spill-me"), 0, false)
	require.NoError(t, err)
	defer ref.Close()

	_, err = p.MoveToDisk(ref.Value(), "", false)
	require.NoError(t, err)

	var out []byte
	require.NoError(t, p.Get(ref, &out))
	assert.Equal(t, []byte("spill-me"), out)
}

func TestSetDestroyOnEvictRoundTrip(t *testing.T) {
	peers := reservePeers(t, 1, 2)
	p1 := startWorker(t, 1, peers)
	p2 := startWorker(t, 2, peers)

	ref, err := p1.Put([]byte("policy"), 0, false)
	require.NoError(t, err)
	defer ref.Close()

	require.NoError(t, p2.SetDestroyOnEvict(ref.Value(), true))
}

func TestRemoteGetMissingRefClassifiesAsMissingNotTransport(t *testing.T) {
	peers := reservePeers(t, 1, 2)
	p1 := startWorker(t, 1, peers)
	p2 := startWorker(t, 2, peers)

	ref, err := p1.Put([]byte("short-lived"), 0, false)
	require.NoError(t, err)
	dref := ref.Value()
	require.NoError(t, ref.Close())

	var out []byte
	err = p2.Get(dref, &out)
	require.Error(t, err)
	assert.Equal(t, poolerr.KindMissingRef, poolerr.Classify(err), "a remote miss must classify the same as a local one (§7)")
}

func TestRemotePutOwnedByPeer(t *testing.T) {
	peers := reservePeers(t, 1, 2)
	p1 := startWorker(t, 1, peers)
	p2 := startWorker(t, 2, peers)

	ref, err := p1.Put([]byte("forwarded"), 2, false)
	require.NoError(t, err)
	defer ref.Close()

	dref := ref.Value()
	assert.Equal(t, 2, dref.Owner)

	var out []byte
	require.NoError(t, p2.Get(dref, &out))
	assert.Equal(t, []byte("forwarded"), out)
}
