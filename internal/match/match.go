// Package match holds the authoritative record of every live match. Each match
// carries its own mutex; all phase transitions and moves happen under it, so
// different matches progress in parallel while one match is strictly
// sequential.
package match

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/game"
	"github.com/Freakkio/Sector7/internal/pool"
)

// Phase is a match's position in the settlement state machine.
type Phase uint8

const (
	Paired Phase = iota
	EscrowPending
	AwaitingStakes
	InProgress
	Settling
	Settled
	Failed
)

func (p Phase) String() string {
	switch p {
	case Paired:
		return "PAIRED"
	case EscrowPending:
		return "ESCROW_PENDING"
	case AwaitingStakes:
		return "AWAITING_STAKES"
	case InProgress:
		return "IN_PROGRESS"
	case Settling:
		return "SETTLING"
	case Settled:
		return "SETTLED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == Settled || p == Failed }

// Match is one paired game. Fields are guarded by the match mutex; use
// Registry.Do or Match.Do to touch them.
type Match struct {
	mu sync.Mutex

	ID      string
	Players [2]pool.Player // seat 0 plays X and moves first
	Stake   decimal.Decimal
	Board   game.Board
	Turn    int
	Phase   Phase
	Staked  [2]bool
	Outcome game.Outcome

	EscrowTx string
	ResultTx string

	CreatedAt     time.Time
	StakeDeadline time.Time
}

// New returns a freshly paired match.
func New(id string, p1, p2 pool.Player, stake decimal.Decimal, now time.Time) *Match {
	return &Match{
		ID:        id,
		Players:   [2]pool.Player{p1, p2},
		Stake:     stake,
		Phase:     Paired,
		CreatedAt: now,
	}
}

// Do runs fn with the match locked.
func (m *Match) Do(fn func(*Match) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

// Advance moves the match to a later phase or to Failed.
func (m *Match) Advance(to Phase) error {
	if m.Phase.Terminal() {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "match %s: already %s", m.ID, m.Phase)
	}
	if to != Failed && to <= m.Phase {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "match %s: cannot go from %s to %s", m.ID, m.Phase, to)
	}
	m.Phase = to
	return nil
}

// Seat returns the player index of sessionID, or -1.
func (m *Match) Seat(sessionID string) int {
	for i, p := range m.Players {
		if p.SessionID == sessionID {
			return i
		}
	}
	return -1
}

// Opponent returns the other player of seat.
func (m *Match) Opponent(seat int) pool.Player { return m.Players[1-seat] }

// SymbolOf maps a seat to its board symbol.
func SymbolOf(seat int) game.Symbol {
	if seat == 0 {
		return game.X
	}
	return game.O
}

// ConfirmStake records the session's stake. started is true when this
// confirmation completed the pair and the game moved to InProgress. Repeated
// confirmations are accepted and change nothing.
func (m *Match) ConfirmStake(sessionID string) (started bool, err error) {
	seat := m.Seat(sessionID)
	if seat < 0 {
		return false, apperrors.Newf(apperrors.CodeInvalidRequest, "match %s: session is not a player", m.ID)
	}
	if m.Phase != AwaitingStakes {
		return false, apperrors.Newf(apperrors.CodeInvalidRequest, "match %s: not awaiting stakes (%s)", m.ID, m.Phase)
	}
	if m.Staked[seat] {
		return false, nil
	}
	m.Staked[seat] = true
	if !m.Staked[0] || !m.Staked[1] {
		return false, nil
	}
	if err := m.Advance(InProgress); err != nil {
		return false, err
	}
	m.Turn = 0
	return true, nil
}

// Play applies a move for sessionID. A rejected move leaves the board and the
// turn untouched and returns CodeInvalidMove. A terminal outcome moves the
// match to Settling.
func (m *Match) Play(sessionID string, index int, eng game.Engine) (game.Outcome, error) {
	if m.Phase != InProgress {
		return game.Outcome{}, apperrors.Newf(apperrors.CodeInvalidMove, "match %s: not in progress (%s)", m.ID, m.Phase)
	}
	seat := m.Seat(sessionID)
	if seat < 0 {
		return game.Outcome{}, apperrors.Newf(apperrors.CodeInvalidMove, "match %s: session is not a player", m.ID)
	}
	if seat != m.Turn {
		return game.Outcome{}, apperrors.Newf(apperrors.CodeInvalidMove, "match %s: not your turn", m.ID)
	}
	b, err := eng.ApplyMove(m.Board, index, SymbolOf(seat))
	if err != nil {
		return game.Outcome{}, err
	}
	m.Board = b
	m.Turn = 1 - m.Turn

	out := eng.Evaluate(b)
	if out.Terminal() {
		m.Outcome = out
		if err := m.Advance(Settling); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Winner resolves the player holding the winning symbol. ok is false for a
// draw or an ongoing game.
func (m *Match) Winner(out game.Outcome) (pool.Player, bool) {
	if out.Result != game.Win {
		return pool.Player{}, false
	}
	for seat := range m.Players {
		if SymbolOf(seat) == out.Winner {
			return m.Players[seat], true
		}
	}
	return pool.Player{}, false
}

// Addresses lists the wallet addresses in seat order.
func (m *Match) Addresses() [2]string {
	return [2]string{m.Players[0].Address, m.Players[1].Address}
}
