package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id string) Entry {
	return Entry{MatchID: id, Winner: "0xA", Players: [2]string{"0xA", "0xB"}, Stake: "50", EscrowTx: "0x111", Reason: "ledger unavailable"}
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.RecordUnresolved(ctx, entry("m1")))
	require.NoError(t, s.RecordUnresolved(ctx, entry("m2")))

	got, err := s.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MatchID)
	assert.Equal(t, [2]string{"0xA", "0xB"}, got[0].Players)
	assert.Equal(t, "50", got[0].Stake)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestMarkResolved(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.RecordUnresolved(ctx, entry("m1")))

	require.NoError(t, s.MarkResolved(ctx, "m1", "0x222"))
	err := s.MarkResolved(ctx, "m1", "0x333")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "already resolved")

	open, err := s.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	e, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, e.ResolvedAt)
	assert.Equal(t, "0x222", e.ResultTx)
}

func TestRecordReopens(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.RecordUnresolved(ctx, entry("m1")))
	require.NoError(t, s.MarkResolved(ctx, "m1", "0x222"))

	e := entry("m1")
	e.Reason = "retry failed"
	require.NoError(t, s.RecordUnresolved(ctx, e))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, got.ResolvedAt)
	assert.Equal(t, "retry failed", got.Reason)
}

func TestGetMissing(t *testing.T) {
	s := openTest(t)
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	assert.Error(t, s.RecordUnresolved(context.Background(), Entry{}))
}

func TestReopenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.RecordUnresolved(ctx, entry("m1")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
