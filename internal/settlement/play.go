package settlement

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Freakkio/Sector7/internal/channel"
	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/journal"
	"github.com/Freakkio/Sector7/internal/ledger"
	"github.com/Freakkio/Sector7/internal/match"
)

// Outcome labels for finished matches.
const (
	outcomeWin        = "win"
	outcomeDraw       = "draw"
	outcomeForfeit    = "forfeit"
	outcomeCancelled  = "cancelled"
	outcomeUnresolved = "unresolved"
)

// PlayerStaked records a player's stake. With a verifier configured the
// stake must be visible on the ledger; otherwise the signal is taken as is.
// The address must be the session's own.
func (c *Coordinator) PlayerStaked(ctx context.Context, sessionID, matchID, address string) error {
	if matchID == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "playerStaked: missing matchId")
	}
	m, ok := c.reg.Get(matchID)
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "playerStaked: no match %s", matchID)
	}

	var player string
	err := m.Do(func(m *match.Match) error {
		seat := m.Seat(sessionID)
		if seat < 0 {
			return apperrors.Newf(apperrors.CodeInvalidRequest, "playerStaked: session is not in match %s", matchID)
		}
		player = m.Players[seat].Address
		if address != "" && !strings.EqualFold(address, player) {
			return apperrors.Newf(apperrors.CodeInvalidRequest, "playerStaked: address %s is not the session's", address)
		}
		if m.Phase != match.AwaitingStakes {
			return apperrors.Newf(apperrors.CodeInvalidRequest, "playerStaked: match %s is %s", matchID, m.Phase)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if c.verifier != nil {
		start := time.Now()
		ok, err := c.verifier.VerifyStake(context.WithoutCancel(ctx), matchID, player)
		c.metrics.ObserveLedger(opVerifyStake, start, err)
		if err != nil {
			c.send(sessionID, msgStakeUnverified)
			return err
		}
		if !ok {
			c.send(sessionID, msgStakeUnverified)
			return apperrors.Newf(apperrors.CodeInvalidRequest, "playerStaked: no stake from %s in match %s", player, matchID)
		}
	}

	return c.reg.Do(matchID, func(m *match.Match) error {
		started, err := m.ConfirmStake(sessionID)
		if err != nil {
			return err
		}
		if !started {
			log.Printf("match %s stake from %s", m.ID, player)
			c.send(sessionID, msgStakeRecorded)
			return nil
		}
		log.Printf("match %s both stakes in, starting", m.ID)
		c.broadcast(m.ID, channel.EventGameStart, GameStart{StartingPlayer: m.Players[0].Address})
		return nil
	})
}

// Move applies a move. Rejected moves return CodeInvalidMove and change
// nothing; a move that ends the game settles it before Move returns.
func (c *Coordinator) Move(ctx context.Context, sessionID, matchID string, index int) error {
	var (
		s      settlement
		settle bool
	)
	err := c.reg.Do(matchID, func(m *match.Match) error {
		out, err := m.Play(sessionID, index, c.engine)
		if err != nil {
			c.metrics.RejectedMoves.Inc()
			return err
		}
		c.broadcast(m.ID, channel.EventUpdateBoard, UpdateBoard{Board: m.Board})
		if !out.Terminal() {
			return nil
		}
		if _, ok := m.Winner(out); ok {
			s, settle = c.settlementLocked(m, outcomeWin, match.Settled, "")
		} else {
			s, settle = c.settlementLocked(m, outcomeDraw, match.Settled, msgDraw)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if settle {
		return c.commit(ctx, s)
	}
	return nil
}

// settlement is a claimed result commit.
type settlement struct {
	matchID string
	winner  string  // ledger argument: an address or the draw sentinel
	payout  *string // gameOver winner
	final   match.Phase
	outcome string
	message string
	failMsg string
	entry   journal.Entry
}

// settlementLocked claims the commit intent of a Settling match. ok is false
// when the commit was already claimed. The match must be locked.
func (c *Coordinator) settlementLocked(m *match.Match, outcome string, final match.Phase, message string) (settlement, bool) {
	if m.Phase != match.Settling || !c.claim(m.ID, intentCommit) {
		return settlement{}, false
	}
	s := settlement{
		matchID: m.ID,
		winner:  ledger.DrawWinner,
		final:   final,
		outcome: outcome,
		message: message,
		failMsg: msgRefundFailed,
	}
	if w, ok := m.Winner(m.Outcome); ok {
		addr := w.Address
		s.winner, s.payout, s.failMsg = addr, &addr, msgPayoutFailed
	}
	s.entry = journal.Entry{
		MatchID:  m.ID,
		Winner:   s.winner,
		Players:  m.Addresses(),
		Stake:    m.Stake.String(),
		EscrowTx: m.EscrowTx,
	}
	return s, true
}

func (c *Coordinator) commit(ctx context.Context, s settlement) error {
	c.inflight.Add(1)
	defer c.inflight.Done()

	start := time.Now()
	rec, err := c.ledger.CommitResult(context.WithoutCancel(ctx), s.matchID, s.winner)
	c.metrics.ObserveLedger(opCommitResult, start, err)
	if err != nil {
		return c.escalate(ctx, s, err)
	}

	_ = c.reg.Do(s.matchID, func(m *match.Match) error {
		m.ResultTx = rec.TxHash
		if err := m.Advance(s.final); err != nil {
			log.Printf("match %s: %v", m.ID, err)
		}
		c.broadcast(m.ID, channel.EventGameOver, GameOver{Winner: s.payout, TxHash: rec.TxHash, Message: s.message})
		return nil
	})
	log.Printf("match %s settled %s winner=%s tx=%s", s.matchID, s.outcome, s.winner, rec.TxHash)
	c.finish(s.matchID, s.outcome)
	return nil
}

// escalate handles a commit that exhausted its retries. The match is only
// dropped once the journal holds it; until then Sweep keeps retrying.
func (c *Coordinator) escalate(ctx context.Context, s settlement, cause error) error {
	c.metrics.Unresolved.Inc()
	log.Printf("ALERT: match %s result commit failed winner=%s escrow=%s: %v", s.matchID, s.winner, s.entry.EscrowTx, cause)

	_ = c.reg.Do(s.matchID, func(m *match.Match) error {
		_ = m.Advance(match.Failed)
		c.broadcast(m.ID, channel.EventGameOver, GameOver{Message: s.failMsg})
		return nil
	})

	s.entry.Reason = cause.Error()
	if err := c.record(ctx, s.entry); err != nil {
		log.Printf("ALERT: match %s not journaled, keeping it for retry: %v", s.matchID, err)
		c.mu.Lock()
		c.stuck[s.matchID] = s
		c.mu.Unlock()
		return cause
	}
	c.finish(s.matchID, outcomeUnresolved)
	return cause
}

// retry re-attempts a settlement that was neither committed nor journaled:
// the commit first, then the journal write. It stays pending until one of
// them succeeds.
func (c *Coordinator) retry(ctx context.Context, s settlement) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	start := time.Now()
	rec, err := c.ledger.CommitResult(context.WithoutCancel(ctx), s.matchID, s.winner)
	c.metrics.ObserveLedger(opCommitResult, start, err)
	if err == nil {
		_ = c.reg.Do(s.matchID, func(m *match.Match) error {
			m.ResultTx = rec.TxHash
			c.broadcast(m.ID, channel.EventGameOver, GameOver{Winner: s.payout, TxHash: rec.TxHash, Message: s.message})
			return nil
		})
		log.Printf("match %s settled on retry %s winner=%s tx=%s", s.matchID, s.outcome, s.winner, rec.TxHash)
		c.finish(s.matchID, s.outcome)
		return
	}

	s.entry.Reason = err.Error()
	if jerr := c.record(ctx, s.entry); jerr != nil {
		log.Printf("ALERT: match %s still unsettled: commit: %v, journal: %v", s.matchID, err, jerr)
		c.mu.Lock()
		c.stuck[s.matchID] = s
		c.mu.Unlock()
		return
	}
	log.Printf("match %s journaled on retry", s.matchID)
	c.finish(s.matchID, outcomeUnresolved)
}

// takeStuck hands every pending settlement to the caller.
func (c *Coordinator) takeStuck() []settlement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]settlement, 0, len(c.stuck))
	for id, s := range c.stuck {
		out = append(out, s)
		delete(c.stuck, id)
	}
	return out
}

func (c *Coordinator) record(ctx context.Context, e journal.Entry) error {
	if c.journal == nil {
		return apperrors.New(apperrors.CodeInternal, "no journal configured")
	}
	return c.journal.RecordUnresolved(context.WithoutCancel(ctx), e)
}

// finish removes the match and closes its channel, once.
func (c *Coordinator) finish(matchID, outcome string) {
	if !c.reg.Remove(matchID) {
		return
	}
	c.notify.Close(matchID)
	c.metrics.Matches.WithLabelValues(outcome).Inc()
	c.syncGauges()
}
