package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Postgres implements Ledger on top of a wallet database.
//
// battle_settlements is unique on (battle_id, version); the two-step
// prepare/commit protocol plus that constraint is what makes payout
// exactly-once across crashes and retries.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Escrow debits the player's wallet and records the hold against the battle.
// Idempotent per (battle, player): a retried escrow after a lost record race
// does not debit twice.
func (p *Postgres) Escrow(ctx context.Context, playerID string, amount int64, battleID string) error {
	if amount <= 0 {
		return fmt.Errorf("escrow amount must be positive")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO battle_escrows (battle_id, player_id, amount, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (battle_id, player_id) DO NOTHING`,
		battleID, playerID, amount, time.Now())
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// already escrowed for this battle
		return nil
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance - $1 WHERE player_id = $2 AND balance >= $1`,
		amount, playerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("insufficient balance for player %s", playerID)
	}
	return tx.Commit()
}

// Release refunds an escrowed stake that never bound to the battle record.
// No-op when the hold does not exist.
func (p *Postgres) Release(ctx context.Context, playerID, battleID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var amount int64
	err = tx.QueryRowContext(ctx,
		`DELETE FROM battle_escrows WHERE battle_id = $1 AND player_id = $2
		 RETURNING amount`,
		battleID, playerID).Scan(&amount)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + $1 WHERE player_id = $2`,
		amount, playerID); err != nil {
		return err
	}
	return tx.Commit()
}

// Prepare reserves the effect set for (battleID, version). Replays with the
// same key are no-ops regardless of payload: the first writer wins.
func (p *Postgres) Prepare(ctx context.Context, battleID string, version int64, effects []Effect) error {
	raw, err := json.Marshal(effects)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO battle_settlements (battle_id, version, effects, state, created_at)
		 VALUES ($1, $2, $3, 'pending', $4)
		 ON CONFLICT (battle_id, version) DO NOTHING`,
		battleID, version, string(raw), time.Now())
	return err
}

// Commit applies the prepared effects exactly once. The state flip from
// pending to applied and the wallet updates share one transaction; a replay
// sees state = applied and returns without touching wallets.
func (p *Postgres) Commit(ctx context.Context, battleID string, version int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var rawEffects string
	err = tx.QueryRowContext(ctx,
		`UPDATE battle_settlements SET state = 'applied', applied_at = $3
		 WHERE battle_id = $1 AND version = $2 AND state = 'pending'
		 RETURNING effects`,
		battleID, version, time.Now()).Scan(&rawEffects)
	if err == sql.ErrNoRows {
		// already applied, or never prepared: check which before declaring success
		st, serr := p.stateTx(ctx, tx, battleID, version)
		if serr != nil {
			return serr
		}
		if st == StateApplied {
			return nil
		}
		return fmt.Errorf("no pending settlement for battle %s version %d", battleID, version)
	}
	if err != nil {
		return err
	}

	var effects []Effect
	if err := json.Unmarshal([]byte(rawEffects), &effects); err != nil {
		return err
	}
	for _, e := range effects {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (player_id, balance) VALUES ($1, $2)
			 ON CONFLICT (player_id) DO UPDATE SET balance = wallets.balance + $2`,
			e.PlayerID, e.Delta); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) State(ctx context.Context, battleID string, version int64) (SettlementState, error) {
	var st string
	err := p.db.QueryRowContext(ctx,
		`SELECT state FROM battle_settlements WHERE battle_id = $1 AND version = $2`,
		battleID, version).Scan(&st)
	if err == sql.ErrNoRows {
		return StateNone, nil
	}
	if err != nil {
		return StateNone, err
	}
	return SettlementState(st), nil
}

func (p *Postgres) stateTx(ctx context.Context, tx *sql.Tx, battleID string, version int64) (SettlementState, error) {
	var st string
	err := tx.QueryRowContext(ctx,
		`SELECT state FROM battle_settlements WHERE battle_id = $1 AND version = $2`,
		battleID, version).Scan(&st)
	if err == sql.ErrNoRows {
		return StateNone, nil
	}
	if err != nil {
		return StateNone, err
	}
	return SettlementState(st), nil
}

// SweepStale deletes pending rows older than cutoff whose version was never
// committed to the battle record (a lost compare-and-swap race). Rows named in
// keep are still bound to a committed record awaiting Commit and are spared.
func (p *Postgres) SweepStale(ctx context.Context, cutoff time.Duration, keep []SettlementRef) (int64, error) {
	keys := make([]string, len(keep))
	for i, ref := range keep {
		keys[i] = fmt.Sprintf("%s|%d", ref.BattleID, ref.Version)
	}
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM battle_settlements
		 WHERE state = 'pending' AND created_at < $1
		   AND battle_id || '|' || version <> ALL($2)`,
		time.Now().Add(-cutoff), pq.Array(keys))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
