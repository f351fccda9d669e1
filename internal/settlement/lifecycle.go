package settlement

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/game"
	"github.com/Freakkio/Sector7/internal/match"
)

// Disconnect releases whatever the session held. A waiting player leaves the
// pool. A match that loses a player is surfaced as CodeOrphanedMatch: before
// the game started it is cancelled with a refund, during the game the
// remaining player wins by forfeit. Settlement already under way continues.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if w, ok := c.pool.Remove(sessionID); ok {
		c.mu.Unlock()
		log.Printf("session %s left the pool tier=%s", sessionID, w.Tier)
		c.syncGauges()
		return nil
	}
	if p, ok := c.pending[sessionID]; ok {
		p.gone[sessionID] = true
		c.mu.Unlock()
		log.Printf("session %s left while match %s is being created", sessionID, p.m.ID)
		return nil
	}
	c.mu.Unlock()

	m, ok := c.reg.BySession(sessionID)
	if !ok {
		return nil
	}
	var (
		orphan error
		s      settlement
		settle bool
	)
	_ = m.Do(func(m *match.Match) error {
		seat := m.Seat(sessionID)
		switch m.Phase {
		case match.AwaitingStakes:
			orphan = apperrors.Newf(apperrors.CodeOrphanedMatch, "match %s: %s left before the game started", m.ID, m.Players[seat].Address)
			_ = m.Advance(match.Settling)
			s, settle = c.settlementLocked(m, outcomeCancelled, match.Failed, msgCancelled)
		case match.InProgress:
			orphan = apperrors.Newf(apperrors.CodeOrphanedMatch, "match %s: %s left mid-game, %s wins by forfeit", m.ID, m.Players[seat].Address, m.Opponent(seat).Address)
			m.Outcome = game.Outcome{Result: game.Win, Winner: match.SymbolOf(1 - seat)}
			_ = m.Advance(match.Settling)
			s, settle = c.settlementLocked(m, outcomeForfeit, match.Settled, msgForfeit)
		}
		return nil
	})
	if orphan == nil {
		return nil
	}
	c.metrics.Orphaned.Inc()
	log.Printf("%v", orphan)
	if settle {
		_ = c.commit(ctx, s)
	}
	return orphan
}

// cancel refunds a match that never started.
func (c *Coordinator) cancel(ctx context.Context, matchID, message string) error {
	var (
		s      settlement
		settle bool
	)
	err := c.reg.Do(matchID, func(m *match.Match) error {
		if m.Phase != match.AwaitingStakes {
			return nil
		}
		if err := m.Advance(match.Settling); err != nil {
			return err
		}
		s, settle = c.settlementLocked(m, outcomeCancelled, match.Failed, message)
		return nil
	})
	if err != nil || !settle {
		return err
	}
	return c.commit(ctx, s)
}

// Sweep expires stale waiters, cancels matches whose stake deadline has
// passed and retries settlements that could neither be committed nor
// journaled. Cancellations and retries run concurrently.
func (c *Coordinator) Sweep(ctx context.Context) error {
	now := c.now()
	for _, w := range c.pool.Expire(now.Add(-c.mmTimeout)) {
		c.metrics.Timeouts.WithLabelValues("matchmaking").Inc()
		log.Printf("session %s gave up waiting tier=%s", w.SessionID, w.Tier)
		c.send(w.SessionID, msgNoOpponent)
	}
	c.syncGauges()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range c.takeStuck() {
		g.Go(func() error {
			c.retry(gctx, s)
			return nil
		})
	}
	for _, v := range c.reg.Snapshot() {
		if v.Phase != match.AwaitingStakes.String() || v.StakeDeadline.IsZero() || !now.After(v.StakeDeadline) {
			continue
		}
		c.metrics.Timeouts.WithLabelValues("stake").Inc()
		log.Printf("match %s stake deadline passed, cancelling", v.ID)
		g.Go(func() error {
			if err := c.cancel(gctx, v.ID, msgStakeTimeout); err != nil {
				log.Printf("match %s cancel: %v", v.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run sweeps every interval until ctx is done, then waits for in-flight
// ledger flows.
func (c *Coordinator) Run(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Wait()
			return nil
		case <-t.C:
			if err := c.Sweep(ctx); err != nil {
				log.Printf("sweep: %v", err)
			}
		}
	}
}
