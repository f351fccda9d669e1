package game

// parseBoard builds a board from a 9-character string of 'X', 'O' and any
// other rune for empty cells. Extra characters are ignored.
func parseBoard(s string) Board {
	var b Board
	i := 0
	for _, r := range s {
		if i == Cells {
			break
		}
		switch r {
		case ' ', '/', '\n':
			continue
		}
		b[i] = ParseSymbol(string(r))
		i++
	}
	return b
}
