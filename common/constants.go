package common

import "time"

// RPCTimeout is a two-second reply-wait bound. No call path in this module
// applies it: Dialer.Call blocks until net/rpc returns, and Dialer.Go never
// waits on the reply.
const RPCTimeout = 2 * time.Second

// ReconcileSweepInterval is the default period of the heartbeat-
// reconciliation cron job (§9 Open Questions).
const ReconcileSweepInterval = 30 * time.Second

// CoordinatorWorkerID is the designated worker, by convention, that hosts
// who_has_read and answers GetWrkrIPs (§3).
const CoordinatorWorkerID = 1

// SessionDirPrefix is the parent of every worker's spill directory:
// .mempool/<session>-<owner_id>/<local_id> (§4.6).
const SessionDirPrefix = ".mempool"
