package match

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/game"
	"github.com/Freakkio/Sector7/internal/pool"
)

var (
	pA = pool.Player{SessionID: "sA", Address: "0xA"}
	pB = pool.Player{SessionID: "sB", Address: "0xB"}
)

func started(t *testing.T) *Match {
	t.Helper()
	m := New("m1", pA, pB, decimal.NewFromInt(50), time.Now())
	require.NoError(t, m.Advance(EscrowPending))
	require.NoError(t, m.Advance(AwaitingStakes))
	_, err := m.ConfirmStake("sA")
	require.NoError(t, err)
	ok, err := m.ConfirmStake("sB")
	require.NoError(t, err)
	require.True(t, ok)
	return m
}

func TestAdvanceForwardOnly(t *testing.T) {
	m := New("m1", pA, pB, decimal.NewFromInt(50), time.Now())
	require.NoError(t, m.Advance(EscrowPending))
	require.NoError(t, m.Advance(AwaitingStakes))

	assert.Error(t, m.Advance(EscrowPending))
	assert.Error(t, m.Advance(AwaitingStakes))
	assert.Equal(t, AwaitingStakes, m.Phase)

	require.NoError(t, m.Advance(Failed))
	assert.Error(t, m.Advance(Settled), "terminal phases are final")
	assert.Error(t, m.Advance(Failed))
}

func TestConfirmStake(t *testing.T) {
	m := New("m1", pA, pB, decimal.NewFromInt(50), time.Now())
	_, err := m.ConfirmStake("sA")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest), "escrow not created yet")

	require.NoError(t, m.Advance(EscrowPending))
	require.NoError(t, m.Advance(AwaitingStakes))

	ok, err := m.ConfirmStake("sA")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.ConfirmStake("sA")
	require.NoError(t, err)
	assert.False(t, ok, "duplicate confirmation does not start the game")

	_, err = m.ConfirmStake("stranger")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest))

	ok, err = m.ConfirmStake("sB")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, InProgress, m.Phase)
	assert.Equal(t, 0, m.Turn)
}

func TestTurnAlternates(t *testing.T) {
	m := started(t)
	seq := []struct {
		session string
		index   int
	}{{"sA", 4}, {"sB", 0}, {"sA", 8}, {"sB", 2}}
	for i, mv := range seq {
		assert.Equal(t, i%2, m.Turn)
		_, err := m.Play(mv.session, mv.index, game.Classic{})
		require.NoError(t, err)
	}
	assert.Equal(t, game.X, m.Board[4])
	assert.Equal(t, game.O, m.Board[0])
}

func TestRejectedMoveLeavesState(t *testing.T) {
	m := started(t)
	_, err := m.Play("sA", 0, game.Classic{})
	require.NoError(t, err)
	board, turn := m.Board, m.Turn

	_, err = m.Play("sA", 1, game.Classic{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidMove), "wrong turn")

	_, err = m.Play("sB", 0, game.Classic{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidMove), "occupied cell")

	_, err = m.Play("sB", 9, game.Classic{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidMove), "out of range")

	_, err = m.Play("stranger", 5, game.Classic{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidMove))

	assert.Equal(t, board, m.Board)
	assert.Equal(t, turn, m.Turn)
}

func TestWinMovesToSettling(t *testing.T) {
	m := started(t)
	var out game.Outcome
	for i, idx := range []int{0, 3, 1, 4, 2} {
		s := "sA"
		if i%2 == 1 {
			s = "sB"
		}
		var err error
		out, err = m.Play(s, idx, game.Classic{})
		require.NoError(t, err)
	}
	assert.Equal(t, game.Win, out.Result)
	assert.Equal(t, Settling, m.Phase)

	w, ok := m.Winner(out)
	require.True(t, ok)
	assert.Equal(t, "0xA", w.Address)

	_, err := m.Play("sB", 5, game.Classic{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidMove), "no moves after the game ended")
}

func TestDrawHasNoWinner(t *testing.T) {
	m := started(t)
	// X O X / X O O / O X X
	moves := []int{0, 1, 2, 4, 3, 5, 7, 6, 8}
	var out game.Outcome
	for i, idx := range moves {
		s := "sA"
		if i%2 == 1 {
			s = "sB"
		}
		var err error
		out, err = m.Play(s, idx, game.Classic{})
		require.NoError(t, err)
	}
	assert.Equal(t, game.Draw, out.Result)
	_, ok := m.Winner(out)
	assert.False(t, ok)
	assert.Equal(t, Settling, m.Phase)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := New("m1", pA, pB, decimal.NewFromInt(50), time.Now())
	require.NoError(t, r.Create(m))

	err := r.Create(New("m1", pool.Player{SessionID: "sC"}, pool.Player{SessionID: "sD"}, decimal.NewFromInt(50), time.Now()))
	assert.Error(t, err, "duplicate id")
	err = r.Create(New("m2", pA, pool.Player{SessionID: "sD"}, decimal.NewFromInt(50), time.Now()))
	assert.Error(t, err, "session already in a match")

	got, ok := r.BySession("sB")
	require.True(t, ok)
	assert.Same(t, m, got)

	err = r.Do("nope", func(*Match) error { return nil })
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Remove("m1"))
	assert.False(t, r.Remove("m1"), "removal happens exactly once")
	_, ok = r.BySession("sA")
	assert.False(t, ok)
}

func TestRegistryRemoveConcurrent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create(New("m1", pA, pB, decimal.NewFromInt(50), time.Now())))

	var wg sync.WaitGroup
	var mu sync.Mutex
	removed := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Remove("m1") {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, removed)
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := New("late", pool.Player{SessionID: "s3"}, pool.Player{SessionID: "s4"}, decimal.NewFromInt(100), t0.Add(time.Minute))
	late.Board[4] = game.X
	require.NoError(t, r.Create(late))
	require.NoError(t, r.Create(New("early", pA, pB, decimal.RequireFromString("50.5"), t0)))

	v := r.Snapshot()
	require.Len(t, v, 2)
	assert.Equal(t, "early", v[0].ID)
	assert.Equal(t, "50.5", v[0].Stake)
	assert.Equal(t, "PAIRED", v[0].Phase)
	assert.Equal(t, [2]string{"0xA", "0xB"}, v[0].Players)
	assert.Zero(t, v[0].Moves)
	assert.Equal(t, 1, v[1].Moves)
}
