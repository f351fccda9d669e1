package settlement

import (
	"github.com/Freakkio/Sector7/internal/game"
)

// Player-facing status texts. They never carry internal error detail.
const (
	msgWaiting         = "Waiting for an opponent..."
	msgCreating        = "Opponent found! Creating match..."
	msgEscrowFailed    = "Error creating match. Please try again."
	msgStakeRecorded   = "Stake confirmed. Waiting for your opponent..."
	msgStakeUnverified = "Stake not found on the ledger yet. Please try again."
	msgNoOpponent      = "No opponent found. Please try again."
	msgDraw            = "It's a draw! Stakes will be refunded."
	msgForfeit         = "Opponent disconnected. You win by forfeit."
	msgCancelled       = "Opponent left before staking. Match cancelled, stakes will be refunded."
	msgStakeTimeout    = "Staking took too long. Match cancelled, stakes will be refunded."
	msgPayoutFailed    = "Error processing payout."
	msgRefundFailed    = "Error processing refund."
)

// MatchFound is the matchFound payload.
type MatchFound struct {
	MatchID string    `json:"matchId"`
	Players [2]string `json:"players"`
	Stake   string    `json:"stake"`
}

// GameStart is the gameStart payload.
type GameStart struct {
	StartingPlayer string `json:"startingPlayer"`
}

// UpdateBoard is the updateBoard payload.
type UpdateBoard struct {
	Board game.Board `json:"board"`
}

// GameOver is the gameOver payload. Winner is null for a draw, a cancelled
// match or a failed settlement.
type GameOver struct {
	Winner  *string `json:"winner"`
	TxHash  string  `json:"txHash,omitempty"`
	Message string  `json:"message,omitempty"`
}
