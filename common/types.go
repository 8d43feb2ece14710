// Package common holds the data structures shared between the pool core and
// the peer-to-peer RPC surface: distributed references and the wire
// arguments/replies carried over net/rpc.
package common

// DRef is a distributed handle: (owner, id) identifies it uniquely, Size is
// an advisory, immutable byte-footprint estimate used by eviction policies.
type DRef struct {
	Owner int
	ID    uint64
	Size  int64
}

// FRef is a file-backed handle. Identity is (Host, File); it is not
// reference-counted by the pool.
type FRef struct {
	Host string
	File string
	Size int64
}

// PutArgs is the payload for a remote Put (put(value, owner) forwarded to a
// specific owner, §6 Remote endpoints).
type PutArgs struct {
	Data           []byte
	Size           int64
	DestroyOnEvict bool
	File           string
}

// PutReply returns the DRef the target owner created for a remote Put.
type PutReply struct {
	Ref DRef
}

// RefNotification is sent worker->owner for ref_at_owner/unref_at_owner.
type RefNotification struct {
	Ref DRef
}

// Ack is a generic acknowledgement reply used by fire-and-forget and
// forwarder RPCs.
type Ack struct {
	OK bool
}

// Empty is the argument type for RPCs that take none, e.g. GetWrkrIPs.
type Empty struct{}

// GetLocalArgs requests _get_local(id, remote=true) on the owner.
type GetLocalArgs struct {
	ID uint64
}

// GetLocalReply carries either an in-memory payload or a spilled FRef — never
// both. IsFRef distinguishes the two cases since FRef's File may legitimately
// be empty only when IsFRef is false.
type GetLocalReply struct {
	IsFRef  bool
	Payload []byte
	File    FRef
}

// DeserializeFileArgs asks a worker co-located with a file to deserialize it
// and ship the resulting payload back (§4.4 FRef locality path).
type DeserializeFileArgs struct {
	File string
	Size int64
}

// DeserializeFileReply carries the deserialized (still-encoded) payload
// bytes read from disk.
type DeserializeFileReply struct {
	Payload []byte
}

// SetDestroyOnEvictArgs forwards a policy flag change to the owner.
type SetDestroyOnEvictArgs struct {
	Ref  DRef
	Flag bool
}

// MoveToDiskArgs forwards move_to_disk/copy_to_disk to the owner.
type MoveToDiskArgs struct {
	Ref          DRef
	Path         string
	KeepInMemory bool
}

// MoveToDiskReply returns the resulting FRef.
type MoveToDiskReply struct {
	File FRef
}

// SaveToDiskArgs forwards save_to_disk to the owner.
type SaveToDiskArgs struct {
	Ref  DRef
	Path string
}

// DeleteFromDiskArgs forwards delete_from_disk to the owner.
type DeleteFromDiskArgs struct {
	Ref  DRef
	Path string
}

// WhoHasReadArgs records a read-locality hint on the coordinator.
type WhoHasReadArgs struct {
	File string
	Ref  DRef
}

// WrkrIPsReply answers the coordinator's topology query: ip -> worker ids.
type WrkrIPsReply struct {
	IPToWorkers map[string][]int
}

// PeerInfo is the static cluster membership entry this worker was started
// with: a worker id and the RPC endpoint it listens on.
type PeerInfo struct {
	ID       int
	Endpoint string
}
