package game

import (
	"fmt"
	"log"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaEngine evaluates boards with an operator-supplied Lua script while
// keeping move validation native, so a script can never corrupt a board.
//
// The script must define a global function evaluate(board) where board is a
// 1-based table of nine strings ("X", "O" or ""). It returns "X" or "O" for a
// win, "draw" for a draw and nil while the game is ongoing.
type LuaEngine struct {
	Classic

	mu sync.Mutex
	L  *lua.LState
	fn lua.LValue
}

// NewLuaEngine compiles src and checks that it defines evaluate.
func NewLuaEngine(src string) (*LuaEngine, error) {
	L := lua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("lua rules: load: %w", err)
	}
	return newLuaEngine(L)
}

// LoadLuaEngine compiles the script at path.
func LoadLuaEngine(path string) (*LuaEngine, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("lua rules: load %s: %w", path, err)
	}
	return newLuaEngine(L)
}

func newLuaEngine(L *lua.LState) (*LuaEngine, error) {
	fn := L.GetGlobal("evaluate")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("lua rules: evaluate is not a function")
	}
	return &LuaEngine{L: L, fn: fn}, nil
}

// Evaluate runs the script. A script error falls back to the native rules.
func (e *LuaEngine) Evaluate(b Board) Outcome {
	out, err := e.eval(b)
	if err != nil {
		log.Printf("lua rules: %v, using native evaluation", err)
		return Evaluate(b)
	}
	return out
}

func (e *LuaEngine) eval(b Board) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tbl := e.L.NewTable()
	for _, c := range b {
		tbl.Append(lua.LString(c.String()))
	}
	if err := e.L.CallByParam(lua.P{Fn: e.fn, NRet: 1, Protect: true}, tbl); err != nil {
		return Outcome{}, err
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)

	if ret == lua.LNil {
		return Outcome{Result: Ongoing}, nil
	}
	s, ok := ret.(lua.LString)
	if !ok {
		return Outcome{}, fmt.Errorf("evaluate returned %s", ret.Type())
	}
	switch string(s) {
	case "draw":
		return Outcome{Result: Draw}, nil
	case "X", "O":
		return Outcome{Result: Win, Winner: ParseSymbol(string(s))}, nil
	case "":
		return Outcome{Result: Ongoing}, nil
	}
	return Outcome{}, fmt.Errorf("evaluate returned %q", string(s))
}

// Close releases the Lua state.
func (e *LuaEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
}
