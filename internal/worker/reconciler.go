// Package worker runs the settlement reconciler: the crash-recovery half of
// the exactly-once payout protocol. Any battle whose terminal transition
// committed without a confirmed ledger settlement is retried here, keyed by
// the version the transition committed at, so replays cannot double-pay.
package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/ludoarena/battle-coordinator/internal/battle"
	"github.com/ludoarena/battle-coordinator/internal/ledger"
	"github.com/ludoarena/battle-coordinator/internal/obslog"
)

// Sweeper reclaims prepared ledger rows whose version lost the record race
// and can never be committed. Rows in keep are still awaiting Commit and must
// survive the sweep.
type Sweeper interface {
	SweepStale(ctx context.Context, cutoff time.Duration, keep []ledger.SettlementRef) (int64, error)
}

type Reconciler struct {
	store  *battle.Store
	ledger ledger.Ledger
	sweep  Sweeper

	interval   time.Duration
	sweepAfter time.Duration
	sched      gocron.Scheduler
}

func NewReconciler(store *battle.Store, lg ledger.Ledger, sweep Sweeper) *Reconciler {
	return &Reconciler{
		store:      store,
		ledger:     lg,
		sweep:      sweep,
		interval:   30 * time.Second,
		sweepAfter: 24 * time.Hour,
	}
}

// Start runs one pass immediately (restart recovery) and then on a fixed
// interval until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	r.sched = sched
	_, err = sched.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.runOnce(ctx) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	sched.Start()
	return nil
}

func (r *Reconciler) Stop() {
	if r.sched != nil {
		_ = r.sched.Shutdown()
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	ids, err := r.store.SettlePending(ctx)
	if err != nil {
		obslog.L().Error("reconcile_list_error", zap.Error(err))
		return
	}
	keep := make([]ledger.SettlementRef, 0, len(ids))
	for _, id := range ids {
		if ref := r.reconcile(ctx, id); ref != nil {
			keep = append(keep, *ref)
		}
	}
	if r.sweep != nil {
		if n, err := r.sweep.SweepStale(ctx, r.sweepAfter, keep); err != nil {
			obslog.L().Error("reconcile_sweep_error", zap.Error(err))
		} else if n > 0 {
			obslog.L().Info("reconcile_sweep", zap.Int64("rows", n))
		}
	}
}

// reconcile retries the settlement of one tracked battle. It returns the
// settlement ref when the commit is still outstanding, so the caller can
// shield it from the stale-row sweep.
func (r *Reconciler) reconcile(ctx context.Context, id string) *ledger.SettlementRef {
	b, err := r.store.Get(ctx, id)
	if err != nil {
		if err == battle.ErrNotFound {
			// record expired; nothing left to settle against
			_ = r.store.MarkSettled(ctx, id)
		}
		return nil
	}
	if b.Resolution == nil || b.Resolution.SettleVersion == 0 {
		return nil
	}
	ref := &ledger.SettlementRef{BattleID: b.ID, Version: b.Resolution.SettleVersion}
	if err := r.ledger.Commit(ctx, b.ID, b.Resolution.SettleVersion); err != nil {
		obslog.L().Warn("reconcile_commit_error",
			zap.String("battle_id", b.ID),
			zap.Int64("version", b.Resolution.SettleVersion),
			zap.Error(err),
		)
		return ref
	}
	_ = r.store.MarkSettled(ctx, b.ID)
	obslog.L().Info("reconcile_settled",
		zap.String("battle_id", b.ID),
		zap.Int64("version", b.Resolution.SettleVersion),
	)
	return nil
}
