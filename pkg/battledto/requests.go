package battledto

// CreateBattleRequest opens a battle with the caller's stake escrowed.
type CreateBattleRequest struct {
	CreatorID   string `json:"creator_id"`
	CreatorName string `json:"creator_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Amount      int64  `json:"amount"`
}

// JoinRequest escrows the caller's stake and takes the opponent seat.
type JoinRequest struct {
	PlayerID        string `json:"player_id"`
	PlayerName      string `json:"player_name"`
	AvatarRef       string `json:"avatar_ref,omitempty"`
	ExpectedVersion int64  `json:"expected_version"`
}

// RoomCodeRequest attaches the third-party game room code (creator only).
type RoomCodeRequest struct {
	CallerID        string `json:"caller_id"`
	RoomCode        string `json:"room_code"`
	ExpectedVersion int64  `json:"expected_version"`
}

// ReadyRequest confirms the caller joined the game room.
type ReadyRequest struct {
	CallerID        string `json:"caller_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// ResultRequest submits the caller's claim. A won claim must carry the proof
// reference returned by the upload presign.
type ResultRequest struct {
	CallerID        string `json:"caller_id"`
	Outcome         string `json:"outcome"`
	ProofRef        string `json:"proof_ref,omitempty"`
	ExpectedVersion int64  `json:"expected_version"`
}

// CancelRequest terminates the battle; penalties per the tariff.
type CancelRequest struct {
	CallerID        string `json:"caller_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// OverrideRequest applies a manual-review verdict to a disputed battle.
// Administrative endpoint, never exposed to players.
type OverrideRequest struct {
	WinnerID        string `json:"winner_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// PresignRequest asks for a proof screenshot upload slot.
type PresignRequest struct {
	BattleID string `json:"battle_id"`
	PlayerID string `json:"player_id"`
}
