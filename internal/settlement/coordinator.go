// Package settlement drives each match from pairing to settlement. It is the
// only component that sequences ledger calls against player actions: escrow
// before stakes, stakes before play, a terminal board before the result
// commit, and exactly one escrow and one commit per match id.
package settlement

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Freakkio/Sector7/internal/channel"
	"github.com/Freakkio/Sector7/internal/config"
	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/game"
	"github.com/Freakkio/Sector7/internal/journal"
	"github.com/Freakkio/Sector7/internal/ledger"
	"github.com/Freakkio/Sector7/internal/match"
	"github.com/Freakkio/Sector7/internal/metrics"
	"github.com/Freakkio/Sector7/internal/pool"
)

const (
	opCreateEscrow = "create_escrow"
	opCommitResult = "commit_result"
	opVerifyStake  = "verify_stake"
)

// Notifier delivers events to sessions. channel.Broker implements it.
type Notifier interface {
	Send(sessionID, event string, payload any) error
	Broadcast(matchID, event string, payload any) (int, error)
	Join(matchID, sessionID string)
	Close(matchID string)
}

// Journal records settlements that could not be committed.
type Journal interface {
	RecordUnresolved(ctx context.Context, e journal.Entry) error
}

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	MatchmakingTimeout time.Duration
	StakeTimeout       time.Duration

	Engine   game.Engine
	Tiers    *config.TierSet      // nil allows any positive stake
	Verifier ledger.StakeVerifier // nil trusts the playerStaked signal
	Journal  Journal
	Metrics  *metrics.Metrics

	Now   func() time.Time
	NewID func() string
}

type intent uint8

const (
	intentEscrow intent = 1 << iota
	intentCommit
)

// pairing is a match whose escrow is being created. It is not in the
// registry yet.
type pairing struct {
	m     *match.Match
	tier  string
	since [2]time.Time    // when each player first asked for a match
	gone  map[string]bool // sessions that disconnected meanwhile
}

// Coordinator is safe for concurrent use. Lock order: a match mutex, then
// mu, then the pool and registry locks.
type Coordinator struct {
	pool     *pool.Pool
	reg      *match.Registry
	ledger   ledger.Gateway
	notify   Notifier
	engine   game.Engine
	tiers    *config.TierSet
	verifier ledger.StakeVerifier
	journal  Journal
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	mmTimeout    time.Duration
	stakeTimeout time.Duration

	mu      sync.Mutex
	intents map[string]intent // every match id ever issued
	pending map[string]*pairing
	stuck   map[string]settlement // commits neither confirmed nor journaled

	inflight sync.WaitGroup
}

func New(p *pool.Pool, reg *match.Registry, gw ledger.Gateway, n Notifier, opts Options) *Coordinator {
	c := &Coordinator{
		pool:         p,
		reg:          reg,
		ledger:       gw,
		notify:       n,
		engine:       opts.Engine,
		tiers:        opts.Tiers,
		verifier:     opts.Verifier,
		journal:      opts.Journal,
		metrics:      opts.Metrics,
		now:          opts.Now,
		newID:        opts.NewID,
		mmTimeout:    opts.MatchmakingTimeout,
		stakeTimeout: opts.StakeTimeout,
		intents:      map[string]intent{},
		pending:      map[string]*pairing{},
		stuck:        map[string]settlement{},
	}
	if c.engine == nil {
		c.engine = game.Classic{}
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = NewMatchID
	}
	if c.mmTimeout <= 0 {
		c.mmTimeout = 10 * time.Minute
	}
	if c.stakeTimeout <= 0 {
		c.stakeTimeout = 5 * time.Minute
	}
	return c
}

// NewMatchID returns 31 hex characters of random UUID material, the most the
// ledger's NUL-terminated 32-byte id can hold.
func NewMatchID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:ledger.MatchIDWidth-1]
}

// TierKey is the canonical pool key of a stake: "50", "50.0" and "50.00" share
// a tier.
func TierKey(stake decimal.Decimal) string { return stake.String() }

// ---------- pairing ----------

// FindMatch pairs the player with the oldest waiter of the stake tier, or
// queues the player when the tier is empty. Pairing blocks until the escrow
// is created or has failed.
func (c *Coordinator) FindMatch(ctx context.Context, pl pool.Player, stake decimal.Decimal) error {
	if pl.SessionID == "" || strings.TrimSpace(pl.Address) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "findMatch: missing address")
	}
	if !ledger.ValidAddress(pl.Address) {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "findMatch: invalid address %q", pl.Address)
	}
	if err := ledger.ValidateStake(stake); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "findMatch", err)
	}
	if c.tiers != nil && !c.tiers.Allowed(stake) {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "findMatch: stake %s is not an offered tier", stake)
	}
	tier := TierKey(stake)

	c.mu.Lock()
	if err := c.busyLocked(pl.SessionID); err != nil {
		c.mu.Unlock()
		return err
	}
	w, ok := c.pool.DequeueOldest(tier)
	if !ok {
		err := c.pool.Enqueue(tier, pl)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		log.Printf("session %s waiting tier=%s address=%s", pl.SessionID, tier, pl.Address)
		c.syncGauges()
		c.send(pl.SessionID, msgWaiting)
		return nil
	}

	id := c.issueIDLocked()
	now := c.now()
	p := &pairing{
		m:     match.New(id, w.Player, pl, stake, now),
		tier:  tier,
		since: [2]time.Time{w.Since, now},
		gone:  map[string]bool{},
	}
	_ = p.m.Advance(match.EscrowPending)
	c.intents[id] |= intentEscrow
	c.pending[w.SessionID] = p
	c.pending[pl.SessionID] = p
	c.mu.Unlock()

	c.syncGauges()
	return c.createEscrow(ctx, p)
}

func (c *Coordinator) busyLocked(sessionID string) error {
	if c.pool.Contains(sessionID) {
		return apperrors.New(apperrors.CodeInvalidRequest, "findMatch: already waiting")
	}
	if _, ok := c.pending[sessionID]; ok {
		return apperrors.New(apperrors.CodeInvalidRequest, "findMatch: match is being created")
	}
	if m, ok := c.reg.BySession(sessionID); ok {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "findMatch: already in match %s", m.ID)
	}
	return nil
}

func (c *Coordinator) issueIDLocked() string {
	for {
		id := c.newID()
		if _, taken := c.intents[id]; !taken {
			c.intents[id] = 0
			return id
		}
		log.Printf("match id %s collided, regenerating", id)
	}
}

// claim records a ledger intent for the match and reports whether the caller
// owns it.
func (c *Coordinator) claim(matchID string, kind intent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intents[matchID]&kind != 0 {
		return false
	}
	c.intents[matchID] |= kind
	return true
}

func (c *Coordinator) createEscrow(ctx context.Context, p *pairing) error {
	c.inflight.Add(1)
	defer c.inflight.Done()

	m := p.m
	for _, pl := range m.Players {
		c.send(pl.SessionID, msgCreating)
	}

	start := time.Now()
	rec, err := c.ledger.CreateEscrow(context.WithoutCancel(ctx), ledger.EscrowRequest{
		MatchID: m.ID,
		P1:      m.Players[0].Address,
		P2:      m.Players[1].Address,
		Stake:   m.Stake,
	})
	c.metrics.ObserveLedger(opCreateEscrow, start, err)

	c.mu.Lock()
	for _, pl := range m.Players {
		delete(c.pending, pl.SessionID)
	}
	if err != nil {
		_ = m.Advance(match.Failed)
		var back []pool.Waiter
		for i, pl := range m.Players {
			if !p.gone[pl.SessionID] {
				back = append(back, pool.Waiter{Player: pl, Since: p.since[i]})
			}
		}
		c.pool.Requeue(p.tier, back...)
		c.mu.Unlock()

		log.Printf("match %s escrow failed, requeued %d player(s) tier=%s: %v", m.ID, len(back), p.tier, err)
		for _, pl := range back {
			c.send(pl.SessionID, msgEscrowFailed)
		}
		c.syncGauges()
		return err
	}

	m.EscrowTx = rec.TxHash
	_ = m.Advance(match.AwaitingStakes)
	m.StakeDeadline = c.now().Add(c.stakeTimeout)
	regErr := c.reg.Create(m)
	abandoned := len(p.gone) > 0
	c.mu.Unlock()

	if regErr != nil {
		// The escrow exists on the ledger but no match can hold it.
		log.Printf("ALERT: match %s escrow tx=%s created but not registered: %v", m.ID, rec.TxHash, regErr)
		c.metrics.Unresolved.Inc()
		if c.journal != nil {
			_ = c.journal.RecordUnresolved(context.WithoutCancel(ctx), journal.Entry{
				MatchID:  m.ID,
				Winner:   ledger.DrawWinner,
				Players:  m.Addresses(),
				Stake:    m.Stake.String(),
				EscrowTx: rec.TxHash,
				Reason:   regErr.Error(),
			})
		}
		return apperrors.Wrap(apperrors.CodeInternal, "register match", regErr)
	}
	log.Printf("match %s escrow created tx=%s p1=%s p2=%s stake=%s", m.ID, rec.TxHash, m.Players[0].Address, m.Players[1].Address, m.Stake)
	c.syncGauges()

	_ = c.reg.Do(m.ID, func(m *match.Match) error {
		for _, pl := range m.Players {
			c.notify.Join(m.ID, pl.SessionID)
		}
		c.broadcast(m.ID, channel.EventMatchFound, MatchFound{
			MatchID: m.ID,
			Players: m.Addresses(),
			Stake:   m.Stake.String(),
		})
		return nil
	})

	if abandoned {
		c.metrics.Orphaned.Inc()
		log.Printf("match %s lost a player during escrow creation, cancelling", m.ID)
		return c.cancel(ctx, m.ID, msgCancelled)
	}
	return nil
}

// ---------- helpers ----------

func (c *Coordinator) send(sessionID, text string) {
	if err := c.notify.Send(sessionID, channel.EventStatusUpdate, text); err != nil && !apperrors.HasCode(err, apperrors.CodeNotFound) {
		log.Printf("session %s status: %v", sessionID, err)
	}
}

func (c *Coordinator) broadcast(matchID, event string, payload any) {
	if _, err := c.notify.Broadcast(matchID, event, payload); err != nil {
		log.Printf("match %s %s: %v", matchID, event, err)
	}
}

func (c *Coordinator) syncGauges() {
	c.metrics.Waiting.Set(float64(c.pool.Size()))
	c.metrics.LiveMatches.Set(float64(c.reg.Len()))
}

// Wait blocks until in-flight ledger flows finish.
func (c *Coordinator) Wait() { c.inflight.Wait() }
