// Package reconcile implements the heartbeat-reconciliation sweep named in
// spec.md §9 ("Open questions... implementers should consider an idempotent
// heartbeat-reconciliation path") as a cron-scheduled job, replacing the
// teacher's ad hoc time.Sleep heartbeat loop with github.com/robfig/cron/v3.
package reconcile

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/tinypool-io/tinypool/common"
)

// Resender re-emits ref_at_owner for a ref this worker still holds, in case
// the original first-sight notification was lost (§5: "a failed owner
// notification is not retried"). It is not idempotent on the owner side:
// RefAtOwner only ever increments, so a duplicate resend is not safe to
// call unconditionally — Sweeper only resends refs whose owner is reachable
// and reports no population for them, via the Prober below, bounding (not
// eliminating) the leak window.
type Resender interface {
	ResendRefAtOwner(ref common.DRef)
}

// Prober reports whether ref's owner currently considers this worker a
// population member, so the sweep only resends when it looks like the
// original notification never landed.
type Prober interface {
	OwnerKnowsUs(ref common.DRef) (known bool, reachable bool)
}

// Tracked lists the DRefs this worker currently holds at least one
// materialization of (internal/refcount.Counter.TrackedRefs).
type Tracked func() []common.DRef

// Sweeper runs the periodic reconciliation job.
type Sweeper struct {
	cron    *cron.Cron
	tracked Tracked
	prober  Prober
	resend  Resender
}

// New builds a Sweeper. It does not start the cron schedule; call Start.
func New(tracked Tracked, prober Prober, resend Resender) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		tracked: tracked,
		prober:  prober,
		resend:  resend,
	}
}

// Start schedules the sweep at the given standard cron spec (e.g. "@every
// 30s") and begins running it in the background.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.sweepOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepOnce() {
	for _, ref := range s.tracked() {
		known, reachable := s.prober.OwnerKnowsUs(ref)
		if !reachable {
			slog.Debug("reconcile: owner unreachable, skipping", "owner", ref.Owner, "id", ref.ID)
			continue
		}
		if known {
			continue
		}
		slog.Info("reconcile: resending ref_at_owner", "owner", ref.Owner, "id", ref.ID)
		s.resend.ResendRefAtOwner(ref)
	}
}
