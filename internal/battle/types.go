package battle

import "time"

// Status represents the lifecycle state of a wagered battle.
type Status string

const (
	StatusCreated       Status = "created"
	StatusWaitingReady  Status = "waiting_for_players_ready"
	StatusInProgress    Status = "inprogress"
	StatusResultPending Status = "result_pending"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether no further player-facing transition is legal.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Outcome is a player's own claim about how the match ended.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
)

// ResolutionKind classifies how a battle reached its terminal state.
type ResolutionKind string

const (
	ResolutionWinner    ResolutionKind = "winner"
	ResolutionVoided    ResolutionKind = "voided"
	ResolutionForfeited ResolutionKind = "forfeited"
	ResolutionDisputed  ResolutionKind = "disputed"
)

// Player is a lightweight reference to one side of a battle.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatar_ref,omitempty"`
}

// Claim is one player's submitted result. Immutable once written.
type Claim struct {
	Outcome     Outcome   `json:"outcome"`
	ProofRef    string    `json:"proof_ref,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Resolution is the terminal verdict plus its monetary footprint.
// SettleVersion is the record version the terminal transition committed at;
// the ledger settlement for this battle is keyed by it.
type Resolution struct {
	Kind          ResolutionKind `json:"kind"`
	WinnerID      string         `json:"winner_id,omitempty"`
	PenaltyAmount int64          `json:"penalty_amount,omitempty"`
	FeeAmount     int64          `json:"fee_amount,omitempty"`
	SettleVersion int64          `json:"settle_version,omitempty"`
	Overridden    bool           `json:"overridden,omitempty"`
}

// Battle is the persisted record of one wagered match. Stored as JSON in Redis
// under battle:<id>; Version increases by exactly 1 per accepted mutation.
type Battle struct {
	ID           string               `json:"id"`
	Creator      Player               `json:"creator"`
	Opponent     Player               `json:"opponent,omitempty"`
	Amount       int64                `json:"amount"`
	RoomCode     string               `json:"room_code,omitempty"`
	Status       Status               `json:"status"`
	ReadyPlayers map[string]time.Time `json:"ready_players,omitempty"`
	Result       map[string]Claim     `json:"result,omitempty"`
	Resolution   *Resolution          `json:"resolution,omitempty"`
	Version      int64                `json:"version"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
}

// IsParty reports whether id is the creator or the joined opponent.
func (b *Battle) IsParty(id string) bool {
	if id == "" {
		return false
	}
	return b.Creator.ID == id || (b.Opponent.ID != "" && b.Opponent.ID == id)
}

// OtherParty returns the opposing player id, or "" when id is not a party.
func (b *Battle) OtherParty(id string) string {
	if b.Creator.ID == id {
		return b.Opponent.ID
	}
	if b.Opponent.ID == id {
		return b.Creator.ID
	}
	return ""
}

// Errors returned by the store and the lifecycle engine.
var (
	ErrNotFound            = errf("battle not found")
	ErrInvalidState        = errf("transition not legal from current status")
	ErrStaleState          = errf("version mismatch, re-read and retry")
	ErrUnknownPlayer       = errf("caller is not a party to this battle")
	ErrDuplicateSubmission = errf("result already recorded for this player")
	ErrMissingProof        = errf("won claim requires a proof reference")
	ErrLedgerFailure       = errf("ledger call failed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
