package game

import "encoding/json"

// Symbol is the content of a cell.
type Symbol uint8

const (
	Empty Symbol = iota
	X            // first player
	O            // second player
)

func (s Symbol) String() string {
	switch s {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return ""
	}
}

// MarshalJSON renders empty cells as null, matching the updateBoard payload.
func (s Symbol) MarshalJSON() ([]byte, error) {
	if s == Empty {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// ParseSymbol maps "X" and "O" to symbols; anything else is Empty.
func ParseSymbol(v string) Symbol {
	switch v {
	case "X", "x":
		return X
	case "O", "o":
		return O
	default:
		return Empty
	}
}

// Board is the row-major 3x3 grid.
type Board [Cells]Symbol

// Full reports whether every cell is occupied.
func (b Board) Full() bool {
	for _, c := range b {
		if c == Empty {
			return false
		}
	}
	return true
}

// Moves counts occupied cells.
func (b Board) Moves() int {
	n := 0
	for _, c := range b {
		if c != Empty {
			n++
		}
	}
	return n
}
