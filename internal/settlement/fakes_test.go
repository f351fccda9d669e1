package settlement

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Freakkio/Sector7/internal/channel"
	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/journal"
	"github.com/Freakkio/Sector7/internal/ledger"
	"github.com/Freakkio/Sector7/internal/match"
	"github.com/Freakkio/Sector7/internal/metrics"
	"github.com/Freakkio/Sector7/internal/pool"
)

type commitCall struct {
	MatchID string
	Winner  string
}

type fakeLedger struct {
	mu        sync.Mutex
	escrows   []ledger.EscrowRequest
	commits   []commitCall
	escrowErr error
	rejectFor string // escrows naming this address are rejected
	commitErr error
	escrowTx  string
	commitTx  string
	staked    map[string]bool
	verifyErr error

	gate    chan struct{} // CreateEscrow blocks on it when set
	entered chan struct{}
}

func (f *fakeLedger) CreateEscrow(ctx context.Context, req ledger.EscrowRequest) (ledger.Receipt, error) {
	f.mu.Lock()
	f.escrows = append(f.escrows, req)
	gate, entered, err, tx := f.gate, f.entered, f.escrowErr, f.escrowTx
	if f.rejectFor != "" && (req.P1 == f.rejectFor || req.P2 == f.rejectFor) {
		err = apperrors.New(apperrors.CodeLedgerRejected, "execution reverted")
	}
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return ledger.Receipt{}, err
	}
	if tx == "" {
		tx = "0x111"
	}
	return ledger.Receipt{MatchID: req.MatchID, TxHash: tx}, nil
}

func (f *fakeLedger) CommitResult(ctx context.Context, matchID, winner string) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{matchID, winner})
	if f.commitErr != nil {
		return ledger.Receipt{}, f.commitErr
	}
	tx := f.commitTx
	if tx == "" {
		tx = "0x222"
	}
	return ledger.Receipt{MatchID: matchID, Winner: winner, TxHash: tx}, nil
}

func (f *fakeLedger) VerifyStake(ctx context.Context, matchID, player string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.staked[player], nil
}

func (f *fakeLedger) setCommitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitErr = err
}

func (f *fakeLedger) commitCalls() []commitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commitCall(nil), f.commits...)
}

func (f *fakeLedger) escrowCalls() []ledger.EscrowRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.EscrowRequest(nil), f.escrows...)
}

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]journal.Entry
	err     error
}

func (j *fakeJournal) RecordUnresolved(ctx context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.entries == nil {
		j.entries = map[string]journal.Entry{}
	}
	j.entries[e.MatchID] = e
	return nil
}

func (j *fakeJournal) setErr(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
}

func (j *fakeJournal) has(matchID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.entries[matchID]
	return ok
}

func (j *fakeJournal) Get(ctx context.Context, matchID string) (journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[matchID]
	if !ok {
		return journal.Entry{}, fmt.Errorf("no entry %s", matchID)
	}
	return e, nil
}

func (j *fakeJournal) MarkResolved(ctx context.Context, matchID, tx string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := j.entries[matchID]
	now := time.Now()
	e.ResolvedAt, e.ResultTx = &now, tx
	j.entries[matchID] = e
	return nil
}

type frame struct {
	T string          `json:"t"`
	M json.RawMessage `json:"m"`
}

type recorder struct {
	mu     sync.Mutex
	frames []frame
}

func (r *recorder) Deliver(b []byte) bool {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return false
	}
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return true
}

func (r *recorder) events(name string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.frames {
		if f.T == name {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) statuses() []string {
	var out []string
	for _, f := range r.events(channel.EventStatusUpdate) {
		var s string
		_ = json.Unmarshal(f.M, &s)
		out = append(out, s)
	}
	return out
}

func (r *recorder) last(t *testing.T, name string, into any) {
	t.Helper()
	fs := r.events(name)
	require.NotEmpty(t, fs, "no %s frame", name)
	require.NoError(t, json.Unmarshal(fs[len(fs)-1].M, into))
}

type harness struct {
	t       *testing.T
	c       *Coordinator
	pool    *pool.Pool
	reg     *match.Registry
	broker  *channel.Broker
	ledger  *fakeLedger
	journal *fakeJournal
	metrics *metrics.Metrics
	clients map[string]*recorder

	clockMu sync.Mutex
	clock   time.Time
}

func newHarness(t *testing.T, tune ...func(*Options)) *harness {
	h := &harness{
		t:       t,
		reg:     match.NewRegistry(),
		broker:  channel.NewBroker(),
		ledger:  &fakeLedger{},
		journal: &fakeJournal{},
		metrics: metrics.New(),
		clients: map[string]*recorder{},
		clock:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.pool = pool.New().WithClock(h.now)
	opts := Options{
		MatchmakingTimeout: 10 * time.Minute,
		StakeTimeout:       5 * time.Minute,
		Journal:            h.journal,
		Metrics:            h.metrics,
		Now:                h.now,
	}
	for _, fn := range tune {
		fn(&opts)
	}
	h.c = New(h.pool, h.reg, h.ledger, h.broker, opts)
	return h
}

func (h *harness) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(d)
}

// addr is the wallet of player name: the hex of the name left-padded with
// "a" to 20 bytes.
func addr(name string) string {
	h := hex.EncodeToString([]byte(name))
	return "0x" + strings.Repeat("a", 40-len(h)) + h
}

// player connects a session "s<X>" with wallet addr(X).
func (h *harness) player(name string) (pool.Player, *recorder) {
	pl := pool.Player{SessionID: "s" + name, Address: addr(name)}
	r := &recorder{}
	h.broker.Register(pl.SessionID, r)
	h.clients[name] = r
	return pl, r
}

func (h *harness) find(pl pool.Player, stake string) error {
	return h.c.FindMatch(context.Background(), pl, decimal.RequireFromString(stake))
}

func (h *harness) matchFound(name string) MatchFound {
	var mf MatchFound
	h.clients[name].last(h.t, channel.EventMatchFound, &mf)
	return mf
}

// startGame pairs A and B on tier 50 and confirms both stakes.
func (h *harness) startGame() (string, pool.Player, pool.Player) {
	a, _ := h.player("A")
	b, _ := h.player("B")
	require.NoError(h.t, h.find(a, "50"))
	require.NoError(h.t, h.find(b, "50"))
	id := h.matchFound("A").MatchID
	require.NoError(h.t, h.c.PlayerStaked(context.Background(), a.SessionID, id, a.Address))
	require.NoError(h.t, h.c.PlayerStaked(context.Background(), b.SessionID, id, b.Address))
	return id, a, b
}

func (h *harness) play(id string, players [2]pool.Player, cells ...int) error {
	for i, idx := range cells {
		if err := h.c.Move(context.Background(), players[i%2].SessionID, id, idx); err != nil {
			return err
		}
	}
	return nil
}
