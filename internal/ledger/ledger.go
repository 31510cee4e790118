// Package ledger is the coordinator's boundary to the wallet system. The
// coordinator never moves money directly: it escrows stakes up front and
// settles each terminal transition exactly once, keyed by the battle id and
// the record version that transition committed at.
package ledger

import "context"

// Effect is one wallet delta of a settlement. Positive credits, negative
// debits. The reserved account "platform" receives the fee so every
// settlement sums to the escrowed total.
type Effect struct {
	PlayerID string `json:"player_id"`
	Delta    int64  `json:"delta"`
}

// SettlementRef names one prepared settlement. The reconciler passes the refs
// still bound to a committed battle record so a sweep can never reclaim a
// settlement that is merely late, only ones whose version lost the record's
// compare-and-swap race.
type SettlementRef struct {
	BattleID string
	Version  int64
}

// SettlementState is the lifecycle of a prepared settlement row.
type SettlementState string

const (
	StateNone    SettlementState = ""
	StatePending SettlementState = "pending"
	StateApplied SettlementState = "applied"
)

// Ledger is implemented by the external wallet system.
//
// Prepare records the intended effects for (battleID, version) without moving
// money; it is an idempotent reservation. Commit applies the prepared effects
// exactly once; replays are no-ops. A Prepare whose version loses the record's
// compare-and-swap race is never committed and is swept by the reconciler.
//
// Release undoes an Escrow that never made it into the battle record (the
// caller lost the seat race, or the record write failed). Releasing an escrow
// that does not exist is a no-op.
type Ledger interface {
	Escrow(ctx context.Context, playerID string, amount int64, battleID string) error
	Release(ctx context.Context, playerID, battleID string) error
	Prepare(ctx context.Context, battleID string, version int64, effects []Effect) error
	Commit(ctx context.Context, battleID string, version int64) error
	State(ctx context.Context, battleID string, version int64) (SettlementState, error)
}
