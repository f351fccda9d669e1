package game

import (
	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

// Cells is the number of cells on the board.
const Cells = 9

// Lines are the eight winning triples: three rows, three columns, two diagonals.
var Lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Result is the state of a board after evaluation.
type Result uint8

const (
	Ongoing Result = iota
	Win
	Draw
)

func (r Result) String() string {
	switch r {
	case Win:
		return "win"
	case Draw:
		return "draw"
	default:
		return "ongoing"
	}
}

// Outcome is what Evaluate reports. Winner is set only when Result is Win.
type Outcome struct {
	Result Result
	Winner Symbol
}

// Terminal reports whether the game is over.
func (o Outcome) Terminal() bool { return o.Result != Ongoing }

// Engine validates moves and detects the end of a game. Implementations must
// be pure: no I/O and no shared mutable state visible to callers.
type Engine interface {
	ApplyMove(b Board, index int, s Symbol) (Board, error)
	Evaluate(b Board) Outcome
}

// Classic is the native 3x3 three-in-a-row engine.
type Classic struct{}

// ApplyMove places s at index and returns the new board.
func (Classic) ApplyMove(b Board, index int, s Symbol) (Board, error) {
	return ApplyMove(b, index, s)
}

// Evaluate reports a win, a draw or an ongoing game.
func (Classic) Evaluate(b Board) Outcome {
	return Evaluate(b)
}

// ApplyMove places s at index and returns the new board. The input board is
// not modified.
func ApplyMove(b Board, index int, s Symbol) (Board, error) {
	if s != X && s != O {
		return b, apperrors.Newf(apperrors.CodeInvalidMove, "invalid symbol %d", s)
	}
	if index < 0 || index >= Cells {
		return b, apperrors.Newf(apperrors.CodeInvalidMove, "index %d out of range", index)
	}
	if b[index] != Empty {
		return b, apperrors.Newf(apperrors.CodeInvalidMove, "cell %d already taken", index)
	}
	b[index] = s
	return b, nil
}

// Evaluate checks all eight lines. A draw is declared only when no line wins
// and every cell is occupied.
func Evaluate(b Board) Outcome {
	for _, l := range Lines {
		s := b[l[0]]
		if s != Empty && s == b[l[1]] && s == b[l[2]] {
			return Outcome{Result: Win, Winner: s}
		}
	}
	if b.Full() {
		return Outcome{Result: Draw}
	}
	return Outcome{Result: Ongoing}
}
