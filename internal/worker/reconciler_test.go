package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ludoarena/battle-coordinator/internal/battle"
	"github.com/ludoarena/battle-coordinator/internal/ledger"
)

func newTestStore(t *testing.T) (*battle.Store, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return battle.NewStore(rdb), rdb
}

// seedUnsettled commits a terminal battle whose ledger commit never ran, the
// state a crash between record commit and wallet confirmation leaves behind.
func seedUnsettled(t *testing.T, store *battle.Store, wallet *ledger.Memory) *battle.Battle {
	t.Helper()
	ctx := context.Background()
	b := &battle.Battle{
		ID:        "b-crash",
		Creator:   battle.Player{ID: "A"},
		Opponent:  battle.Player{ID: "B"},
		Amount:    100,
		Status:    battle.StatusInProgress,
		Version:   5,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}
	effects := []ledger.Effect{
		{PlayerID: "A", Delta: 190},
		{PlayerID: "platform", Delta: 10},
	}
	if err := wallet.Prepare(ctx, b.ID, 6, effects); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	out, err := store.CompareAndSwap(ctx, b.ID, 5, func(cur *battle.Battle) error {
		cur.Status = battle.StatusCompleted
		cur.Resolution = &battle.Resolution{
			Kind:          battle.ResolutionWinner,
			WinnerID:      "A",
			FeeAmount:     10,
			SettleVersion: 6,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	return out
}

func TestRunOnceSettlesCrashedBattle(t *testing.T) {
	store, _ := newTestStore(t)
	wallet := ledger.NewMemory()
	b := seedUnsettled(t, store, wallet)
	ctx := context.Background()

	r := NewReconciler(store, wallet, wallet)
	r.runOnce(ctx)

	if got := wallet.Balance("A"); got != 190 {
		t.Fatalf("payout not applied: %d", got)
	}
	state, err := wallet.State(ctx, b.ID, 6)
	if err != nil || state != ledger.StateApplied {
		t.Fatalf("settlement not applied: %s err=%v", state, err)
	}
	pending, _ := store.SettlePending(ctx)
	if len(pending) != 0 {
		t.Fatalf("battle still marked pending: %v", pending)
	}

	// a second pass finds nothing and never re-applies
	r.runOnce(ctx)
	if got := wallet.Balance("A"); got != 190 {
		t.Fatalf("repeat pass double-paid: %d", got)
	}
}

func TestRunOnceKeepsPendingWhenLedgerDown(t *testing.T) {
	store, _ := newTestStore(t)
	wallet := ledger.NewMemory()
	b := seedUnsettled(t, store, wallet)
	ctx := context.Background()

	// pretend the prepared row is gone (e.g. a partial restore); commit fails
	// and the battle stays tracked for the next pass
	if _, err := wallet.SweepStale(ctx, -time.Hour, nil); err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	r := NewReconciler(store, wallet, nil)
	r.runOnce(ctx)

	pending, _ := store.SettlePending(ctx)
	if len(pending) != 1 || pending[0] != b.ID {
		t.Fatalf("battle must stay pending on commit failure: %v", pending)
	}
	if got := wallet.Balance("A"); got != 0 {
		t.Fatalf("no money must move on failure: %d", got)
	}
}

func TestRunOnceClearsExpiredRecords(t *testing.T) {
	store, rdb := newTestStore(t)
	wallet := ledger.NewMemory()
	ctx := context.Background()

	// pending mark without a record, as after the record's TTL elapsed
	if err := rdb.SAdd(ctx, "battle:settle:pending", "b-gone").Err(); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	r := NewReconciler(store, wallet, wallet)
	r.runOnce(ctx)

	pending, _ := store.SettlePending(ctx)
	if len(pending) != 0 {
		t.Fatalf("expired record must be unmarked: %v", pending)
	}
}

type flakyCommitLedger struct {
	*ledger.Memory
	failures int
}

func (f *flakyCommitLedger) Commit(ctx context.Context, battleID string, version int64) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("wallet service unavailable")
	}
	return f.Memory.Commit(ctx, battleID, version)
}

func TestSweepSparesLateSettlement(t *testing.T) {
	store, _ := newTestStore(t)
	wallet := ledger.NewMemory()
	b := seedUnsettled(t, store, wallet)
	ctx := context.Background()

	flaky := &flakyCommitLedger{Memory: wallet, failures: 1}
	r := NewReconciler(store, flaky, wallet)
	r.sweepAfter = -time.Hour // age every row past the cutoff

	// the commit fails this pass; the row belongs to a committed terminal
	// record and must survive the sweep
	r.runOnce(ctx)
	state, err := wallet.State(ctx, b.ID, 6)
	if err != nil || state != ledger.StatePending {
		t.Fatalf("late settlement swept away: %s err=%v", state, err)
	}

	// next pass the wallet is back and the payout lands
	r.runOnce(ctx)
	if got := wallet.Balance("A"); got != 190 {
		t.Fatalf("payout after recovery: want 190 got %d", got)
	}
	pending, _ := store.SettlePending(ctx)
	if len(pending) != 0 {
		t.Fatalf("battle still marked pending: %v", pending)
	}
}

func TestSweepReclaimsOrphanedRows(t *testing.T) {
	store, _ := newTestStore(t)
	wallet := ledger.NewMemory()
	ctx := context.Background()

	// a prepared row whose version lost the record race: nothing references it
	if err := wallet.Prepare(ctx, "b-orphan", 3, []ledger.Effect{{PlayerID: "A", Delta: 100}}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	r := NewReconciler(store, wallet, wallet)
	r.sweepAfter = -time.Hour // everything is stale
	r.runOnce(ctx)

	state, err := wallet.State(ctx, "b-orphan", 3)
	if err != nil || state != ledger.StateNone {
		t.Fatalf("orphaned row not reclaimed: %s err=%v", state, err)
	}
}
