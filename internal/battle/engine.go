package battle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ludoarena/battle-coordinator/internal/ledger"
	"github.com/ludoarena/battle-coordinator/internal/obslog"
)

// PlatformAccount receives the fee cut so every settlement sums to the
// escrowed total.
const PlatformAccount = "platform"

// ReviewQueue receives disputed battles for out-of-band human adjudication.
type ReviewQueue interface {
	Enqueue(ctx context.Context, b *Battle) error
}

// Engine is the authoritative battle lifecycle coordinator. Every operation
// validates the transition against the snapshot at the caller's expected
// version, prepares any monetary effects with the ledger, and commits the new
// record through the store's compare-and-swap. Concurrent callers lose with
// ErrStaleState and retry against a fresh snapshot.
type Engine struct {
	store  *Store
	ledger ledger.Ledger
	tariff *Tariff
	review ReviewQueue
}

func NewEngine(store *Store, lg ledger.Ledger, tariff *Tariff, review ReviewQueue) *Engine {
	return &Engine{store: store, ledger: lg, tariff: tariff, review: review}
}

// Store exposes the underlying record store for read paths (snapshots, lobby
// listing, watch subscriptions).
func (e *Engine) Store() *Store { return e.store }

// Create escrows the creator's stake and opens the battle for an opponent.
func (e *Engine) Create(ctx context.Context, creator Player, amount int64) (*Battle, error) {
	if strings.TrimSpace(creator.ID) == "" || amount <= 0 {
		return nil, fmt.Errorf("invalid creator or amount")
	}
	id := uuid.NewString()
	if err := e.ledger.Escrow(ctx, creator.ID, amount, id); err != nil {
		return nil, fmt.Errorf("%w: escrow creator: %v", ErrLedgerFailure, err)
	}
	now := time.Now()
	b := &Battle{
		ID:        id,
		Creator:   creator,
		Amount:    amount,
		Status:    StatusCreated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, b); err != nil {
		e.releaseEscrow(ctx, creator.ID, id)
		return nil, err
	}
	obslog.L().Info("battle_create",
		zap.String("battle_id", b.ID),
		zap.String("creator_id", creator.ID),
		zap.Int64("amount", amount),
	)
	return b, nil
}

// Join escrows the joiner's stake and advances the battle to the ready-check
// stage. Joining again as the current opponent is an idempotent no-op.
func (e *Engine) Join(ctx context.Context, battleID string, player Player, expectedVersion int64) (*Battle, error) {
	b, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.Opponent.ID != "" && b.Opponent.ID == player.ID {
		return b, nil
	}
	if strings.TrimSpace(player.ID) == "" || player.ID == b.Creator.ID {
		return nil, ErrInvalidState
	}
	if b.Status != StatusCreated {
		return nil, ErrInvalidState
	}
	if b.Version != expectedVersion {
		return nil, ErrStaleState
	}
	if err := e.ledger.Escrow(ctx, player.ID, b.Amount, b.ID); err != nil {
		return nil, fmt.Errorf("%w: escrow opponent: %v", ErrLedgerFailure, err)
	}
	out, err := e.store.CompareAndSwap(ctx, battleID, expectedVersion, func(cur *Battle) error {
		cur.Opponent = player
		cur.Status = StatusWaitingReady
		return nil
	})
	if err != nil {
		// the stake never bound to the record; settlements only ever pay the
		// two seated parties, so hand it straight back
		e.releaseEscrow(ctx, player.ID, battleID)
		return nil, err
	}
	obslog.L().Info("battle_join",
		zap.String("battle_id", battleID),
		zap.String("opponent_id", player.ID),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

// SetRoomCode attaches the third-party game room code. Creator only, set
// once; re-sending the identical code is an idempotent no-op.
func (e *Engine) SetRoomCode(ctx context.Context, battleID, callerID, code string, expectedVersion int64) (*Battle, error) {
	code = strings.TrimSpace(code)
	b, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(callerID) {
		return nil, ErrUnknownPlayer
	}
	if callerID != b.Creator.ID || b.Status != StatusWaitingReady || code == "" {
		return nil, ErrInvalidState
	}
	if b.RoomCode != "" {
		if b.RoomCode == code {
			return b, nil
		}
		return nil, ErrInvalidState
	}
	out, err := e.store.CompareAndSwap(ctx, battleID, expectedVersion, func(cur *Battle) error {
		if cur.RoomCode == code {
			return errNoChange
		}
		cur.RoomCode = code
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("battle_room_code",
		zap.String("battle_id", battleID),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

// MarkReady records the caller's ready confirmation. When the second player
// readies up, the same mutation advances the battle to inprogress.
func (e *Engine) MarkReady(ctx context.Context, battleID, callerID string, expectedVersion int64) (*Battle, error) {
	b, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(callerID) {
		return nil, ErrUnknownPlayer
	}
	// a replayed ready is a no-op even after the battle advanced
	if _, ok := b.ReadyPlayers[callerID]; ok {
		return b, nil
	}
	if b.Status != StatusWaitingReady || b.RoomCode == "" {
		return nil, ErrInvalidState
	}
	out, err := e.store.CompareAndSwap(ctx, battleID, expectedVersion, func(cur *Battle) error {
		if _, ok := cur.ReadyPlayers[callerID]; ok {
			return errNoChange
		}
		if cur.ReadyPlayers == nil {
			cur.ReadyPlayers = make(map[string]time.Time)
		}
		now := time.Now()
		cur.ReadyPlayers[callerID] = now
		if len(cur.ReadyPlayers) == 2 {
			cur.Status = StatusInProgress
			cur.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("battle_ready",
		zap.String("battle_id", battleID),
		zap.String("player_id", callerID),
		zap.String("status", string(out.Status)),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

// SubmitResult records the caller's claim. The first claim moves the battle
// to result_pending; the second triggers the pairwise consistency policy:
// one won + one lost decides a winner, any other pair is a dispute that
// refunds both stakes and goes to manual review. A lone won claim is never
// trusted on its own.
func (e *Engine) SubmitResult(ctx context.Context, battleID, callerID string, outcome Outcome, proofRef string, expectedVersion int64) (*Battle, error) {
	proofRef = strings.TrimSpace(proofRef)
	b, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(callerID) {
		return nil, ErrUnknownPlayer
	}
	if b.Status != StatusInProgress && b.Status != StatusResultPending {
		return nil, ErrInvalidState
	}
	if _, ok := b.Result[callerID]; ok {
		return nil, ErrDuplicateSubmission
	}
	if outcome != OutcomeWon && outcome != OutcomeLost {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}
	if outcome == OutcomeWon && proofRef == "" {
		return nil, ErrMissingProof
	}

	claim := Claim{Outcome: outcome, ProofRef: proofRef, SubmittedAt: time.Now()}

	// first claim: no money moves yet
	if len(b.Result) == 0 {
		out, err := e.store.CompareAndSwap(ctx, battleID, expectedVersion, func(cur *Battle) error {
			if cur.Result == nil {
				cur.Result = make(map[string]Claim)
			}
			cur.Result[callerID] = claim
			cur.Status = StatusResultPending
			return nil
		})
		if err != nil {
			return nil, err
		}
		obslog.L().Info("battle_result",
			zap.String("battle_id", battleID),
			zap.String("player_id", callerID),
			zap.String("outcome", string(outcome)),
			zap.Int64("version", out.Version),
		)
		return out, nil
	}

	// second claim: reconcile the pair
	otherID := b.OtherParty(callerID)
	other := b.Result[otherID]
	res, status := e.reconcile(b, callerID, claim, otherID, other)

	out, err := e.commitTerminal(ctx, b, expectedVersion, func(cur *Battle) {
		cur.Result[callerID] = claim
		cur.Status = status
		cur.Resolution = res
	}, e.effectsFor(b, res))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("battle_result",
		zap.String("battle_id", battleID),
		zap.String("player_id", callerID),
		zap.String("outcome", string(outcome)),
		zap.String("resolution", string(res.Kind)),
		zap.Int64("version", out.Version),
	)
	if res.Kind == ResolutionDisputed && e.review != nil {
		if err := e.review.Enqueue(ctx, out); err != nil {
			obslog.L().Error("battle_review_enqueue_error",
				zap.String("battle_id", battleID), zap.Error(err))
		}
	}
	return out, nil
}

func (e *Engine) releaseEscrow(ctx context.Context, playerID, battleID string) {
	if err := e.ledger.Release(ctx, playerID, battleID); err != nil {
		obslog.L().Error("battle_escrow_release_error",
			zap.String("battle_id", battleID),
			zap.String("player_id", playerID),
			zap.Error(err),
		)
	}
}

func (e *Engine) reconcile(b *Battle, callerID string, claim Claim, otherID string, other Claim) (*Resolution, Status) {
	if claim.Outcome != other.Outcome {
		winnerID := callerID
		if other.Outcome == OutcomeWon {
			winnerID = otherID
		}
		return &Resolution{
			Kind:          ResolutionWinner,
			WinnerID:      winnerID,
			FeeAmount:     e.tariff.Fee(b.Amount),
			SettleVersion: b.Version + 1,
		}, StatusCompleted
	}
	// both won or both lost: deterministic non-gameable default, humans decide
	return &Resolution{
		Kind:          ResolutionDisputed,
		SettleVersion: b.Version + 1,
	}, StatusCancelled
}

// Cancel terminates a non-terminal battle. The penalty depends on how far the
// battle got; see the tariff. Cancelling a result_pending battle without
// having submitted is a forfeit: an opposing won claim is honored.
func (e *Engine) Cancel(ctx context.Context, battleID, callerID string, expectedVersion int64) (*Battle, error) {
	b, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(callerID) {
		return nil, ErrUnknownPlayer
	}
	if b.Status.Terminal() {
		return nil, ErrInvalidState
	}

	var res *Resolution
	switch b.Status {
	case StatusCreated:
		res = &Resolution{Kind: ResolutionVoided, SettleVersion: b.Version + 1}
	case StatusWaitingReady, StatusInProgress:
		res = &Resolution{
			Kind:          ResolutionVoided,
			PenaltyAmount: e.tariff.PenaltyFor(b.Status, b.Amount),
			SettleVersion: b.Version + 1,
		}
	case StatusResultPending:
		res = e.resolveForfeit(b, callerID)
	default:
		return nil, ErrInvalidState
	}

	out, err := e.commitTerminal(ctx, b, expectedVersion, func(cur *Battle) {
		cur.Status = StatusCancelled
		cur.Resolution = res
	}, e.cancelEffects(b, callerID, res))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("battle_cancel",
		zap.String("battle_id", battleID),
		zap.String("caller_id", callerID),
		zap.String("resolution", string(res.Kind)),
		zap.Int64("penalty", res.PenaltyAmount),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

func (e *Engine) resolveForfeit(b *Battle, callerID string) *Resolution {
	if _, submitted := b.Result[callerID]; !submitted {
		otherID := b.OtherParty(callerID)
		if claim, ok := b.Result[otherID]; ok && claim.Outcome == OutcomeWon {
			return &Resolution{
				Kind:          ResolutionForfeited,
				WinnerID:      otherID,
				FeeAmount:     e.tariff.Fee(b.Amount),
				SettleVersion: b.Version + 1,
			}
		}
	}
	// opposing claim was a loss, or the caller withdraws their own claim:
	// full refund, nobody penalized
	return &Resolution{Kind: ResolutionVoided, SettleVersion: b.Version + 1}
}

// Override applies the manual-review verdict to a disputed battle. The stakes
// were already refunded at dispute time, so the corrective effects move the
// loser's stake to the winner (minus the fee). Administrative only.
func (e *Engine) Override(ctx context.Context, battleID, winnerID string, expectedVersion int64) (*Battle, error) {
	b, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(winnerID) {
		return nil, ErrUnknownPlayer
	}
	if b.Status != StatusCancelled || b.Resolution == nil ||
		b.Resolution.Kind != ResolutionDisputed || b.Resolution.Overridden {
		return nil, ErrInvalidState
	}
	loserID := b.OtherParty(winnerID)
	fee := e.tariff.Fee(b.Amount)
	effects := []ledger.Effect{
		{PlayerID: loserID, Delta: -b.Amount},
		{PlayerID: winnerID, Delta: b.Amount - fee},
		{PlayerID: PlatformAccount, Delta: fee},
	}
	out, err := e.commitTerminal(ctx, b, expectedVersion, func(cur *Battle) {
		cur.Resolution.WinnerID = winnerID
		cur.Resolution.FeeAmount = fee
		cur.Resolution.Overridden = true
		cur.Resolution.SettleVersion = cur.Version + 1
	}, effects)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("battle_override",
		zap.String("battle_id", battleID),
		zap.String("winner_id", winnerID),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

// commitTerminal runs the exactly-once settlement protocol: prepare the
// effects under the resulting version, commit the record, then apply the
// ledger side. A prepare failure surfaces as ErrLedgerFailure with the record
// untouched; a commit failure after the record committed is retried by the
// settlement reconciler.
func (e *Engine) commitTerminal(ctx context.Context, b *Battle, expectedVersion int64, apply func(*Battle), effects []ledger.Effect) (*Battle, error) {
	if b.Version != expectedVersion {
		return nil, ErrStaleState
	}
	version := expectedVersion + 1
	if err := e.ledger.Prepare(ctx, b.ID, version, effects); err != nil {
		return nil, fmt.Errorf("%w: prepare settlement: %v", ErrLedgerFailure, err)
	}
	out, err := e.store.CompareAndSwap(ctx, b.ID, expectedVersion, func(cur *Battle) error {
		apply(cur)
		return nil
	})
	if err != nil {
		// the pending ledger row for this version can never be committed by
		// anyone else; the sweeper reclaims it
		return nil, err
	}
	if err := e.ledger.Commit(ctx, b.ID, version); err != nil {
		obslog.L().Warn("battle_settle_retry_later",
			zap.String("battle_id", b.ID),
			zap.Int64("version", version),
			zap.Error(err),
		)
		return out, nil
	}
	_ = e.store.MarkSettled(ctx, b.ID)
	obslog.L().Info("battle_settle",
		zap.String("battle_id", b.ID),
		zap.Int64("version", version),
	)
	return out, nil
}

// effectsFor builds the settlement for a reconciled result.
func (e *Engine) effectsFor(b *Battle, res *Resolution) []ledger.Effect {
	switch res.Kind {
	case ResolutionWinner, ResolutionForfeited:
		return []ledger.Effect{
			{PlayerID: res.WinnerID, Delta: 2*b.Amount - res.FeeAmount},
			{PlayerID: PlatformAccount, Delta: res.FeeAmount},
		}
	default: // disputed: both stakes back, nobody penalized
		return []ledger.Effect{
			{PlayerID: b.Creator.ID, Delta: b.Amount},
			{PlayerID: b.Opponent.ID, Delta: b.Amount},
		}
	}
}

// cancelEffects builds the settlement for a cancellation.
func (e *Engine) cancelEffects(b *Battle, callerID string, res *Resolution) []ledger.Effect {
	switch {
	case b.Status == StatusCreated:
		return []ledger.Effect{{PlayerID: b.Creator.ID, Delta: b.Amount}}
	case res.Kind == ResolutionForfeited:
		return e.effectsFor(b, res)
	case res.PenaltyAmount > 0:
		otherID := b.OtherParty(callerID)
		return []ledger.Effect{
			{PlayerID: callerID, Delta: b.Amount - res.PenaltyAmount},
			{PlayerID: otherID, Delta: b.Amount + res.PenaltyAmount},
		}
	default:
		effects := []ledger.Effect{{PlayerID: b.Creator.ID, Delta: b.Amount}}
		if b.Opponent.ID != "" {
			effects = append(effects, ledger.Effect{PlayerID: b.Opponent.ID, Delta: b.Amount})
		}
		return effects
	}
}
