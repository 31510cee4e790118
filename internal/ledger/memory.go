package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-memory ledger with the same escrow and prepare/commit
// semantics as Postgres. Used by tests and local tooling.
type Memory struct {
	mu sync.Mutex

	balances map[string]int64
	escrows  map[string]int64 // battleID|playerID -> amount

	prepared   map[string][]Effect // battleID|version -> effects
	preparedAt map[string]time.Time
	applied    map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[string]int64),
		escrows:    make(map[string]int64),
		prepared:   make(map[string][]Effect),
		preparedAt: make(map[string]time.Time),
		applied:    make(map[string]bool),
	}
}

func escrowKey(battleID, playerID string) string { return battleID + "|" + playerID }
func settleKey(battleID string, version int64) string {
	return fmt.Sprintf("%s|%d", battleID, version)
}

// Deposit seeds a wallet balance.
func (m *Memory) Deposit(playerID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] += amount
}

// Balance returns the current wallet balance.
func (m *Memory) Balance(playerID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[playerID]
}

// EscrowedTotal returns the sum held against a battle.
func (m *Memory) EscrowedTotal(battleID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for k, v := range m.escrows {
		if len(k) > len(battleID) && k[:len(battleID)] == battleID && k[len(battleID)] == '|' {
			total += v
		}
	}
	return total
}

func (m *Memory) Escrow(ctx context.Context, playerID string, amount int64, battleID string) error {
	if amount <= 0 {
		return fmt.Errorf("escrow amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := escrowKey(battleID, playerID)
	if _, ok := m.escrows[key]; ok {
		return nil
	}
	if m.balances[playerID] < amount {
		return fmt.Errorf("insufficient balance for player %s", playerID)
	}
	m.balances[playerID] -= amount
	m.escrows[key] = amount
	return nil
}

func (m *Memory) Release(ctx context.Context, playerID, battleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := escrowKey(battleID, playerID)
	amount, ok := m.escrows[key]
	if !ok {
		return nil
	}
	delete(m.escrows, key)
	m.balances[playerID] += amount
	return nil
}

func (m *Memory) Prepare(ctx context.Context, battleID string, version int64, effects []Effect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := settleKey(battleID, version)
	if _, ok := m.prepared[key]; ok {
		return nil
	}
	cp := make([]Effect, len(effects))
	copy(cp, effects)
	m.prepared[key] = cp
	m.preparedAt[key] = time.Now()
	return nil
}

func (m *Memory) Commit(ctx context.Context, battleID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := settleKey(battleID, version)
	if m.applied[key] {
		return nil
	}
	effects, ok := m.prepared[key]
	if !ok {
		return fmt.Errorf("no pending settlement for battle %s version %d", battleID, version)
	}
	for _, e := range effects {
		m.balances[e.PlayerID] += e.Delta
	}
	m.applied[key] = true
	return nil
}

func (m *Memory) State(ctx context.Context, battleID string, version int64) (SettlementState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := settleKey(battleID, version)
	if m.applied[key] {
		return StateApplied, nil
	}
	if _, ok := m.prepared[key]; ok {
		return StatePending, nil
	}
	return StateNone, nil
}

func (m *Memory) SweepStale(ctx context.Context, cutoff time.Duration, keep []SettlementRef) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	protected := make(map[string]bool, len(keep))
	for _, ref := range keep {
		protected[settleKey(ref.BattleID, ref.Version)] = true
	}
	var n int64
	limit := time.Now().Add(-cutoff)
	for key, at := range m.preparedAt {
		if !m.applied[key] && !protected[key] && at.Before(limit) {
			delete(m.prepared, key)
			delete(m.preparedAt, key)
			n++
		}
	}
	return n, nil
}
