// Package pool holds the players waiting for an opponent, partitioned by
// stake tier. Within a tier the oldest waiter is paired first; tiers never
// mix.
package pool

import (
	"container/list"
	"sync"
	"time"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

// Player is a connected session and the wallet it plays with.
type Player struct {
	SessionID string `json:"-"`
	Address   string `json:"address"`
}

// Waiter is a player queued on a tier.
type Waiter struct {
	Player
	Tier  string
	Since time.Time
}

// Pool is safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	tiers map[string]*list.List    // tier -> FIFO of Waiter
	index map[string]*list.Element // session -> element
	now   func() time.Time
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		tiers: map[string]*list.List{},
		index: map[string]*list.Element{},
		now:   time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Enqueue appends the player to the tier.
func (p *Pool) Enqueue(tier string, pl Player) error {
	if tier == "" || pl.SessionID == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "pool: empty tier or session")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[pl.SessionID]; ok {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "pool: session %s already waiting", pl.SessionID)
	}
	q := p.queue(tier)
	p.index[pl.SessionID] = q.PushBack(Waiter{Player: pl, Tier: tier, Since: p.now()})
	return nil
}

// Requeue puts waiters back at the head of the tier, keeping their relative
// order and their original Since, so the matchmaking timeout still counts
// from the first request. A zero Since becomes now. Sessions already waiting
// are skipped.
func (p *Pool) Requeue(tier string, waiters ...Waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queue(tier)
	now := p.now()
	for i := len(waiters) - 1; i >= 0; i-- {
		w := waiters[i]
		if _, ok := p.index[w.SessionID]; ok {
			continue
		}
		w.Tier = tier
		if w.Since.IsZero() {
			w.Since = now
		}
		p.index[w.SessionID] = q.PushFront(w)
	}
}

// DequeueOldest pops the earliest waiter of the tier.
func (p *Pool) DequeueOldest(tier string) (Waiter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.tiers[tier]
	if !ok {
		return Waiter{}, false
	}
	e := q.Front()
	if e == nil {
		return Waiter{}, false
	}
	return p.unlink(e), true
}

// Remove deletes the session from whatever tier holds it.
func (p *Pool) Remove(sessionID string) (Waiter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.index[sessionID]
	if !ok {
		return Waiter{}, false
	}
	return p.unlink(e), true
}

// Expire removes and returns every waiter enqueued before cutoff.
func (p *Pool) Expire(cutoff time.Time) []Waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Waiter
	for _, q := range p.tiers {
		// Waiters within a tier are ordered by Since except for requeued
		// heads, so scan the whole list.
		for e := q.Front(); e != nil; {
			next := e.Next()
			if e.Value.(Waiter).Since.Before(cutoff) {
				out = append(out, p.unlink(e))
			}
			e = next
		}
	}
	return out
}

// Contains reports whether the session is waiting.
func (p *Pool) Contains(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[sessionID]
	return ok
}

// Len is the number of waiters on a tier.
func (p *Pool) Len(tier string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.tiers[tier]; ok {
		return q.Len()
	}
	return 0
}

// Size is the number of waiters across all tiers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.index)
}

// Waiting lists a tier's waiters oldest first.
func (p *Pool) Waiting(tier string) []Waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.tiers[tier]
	if !ok {
		return nil
	}
	out := make([]Waiter, 0, q.Len())
	for e := q.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Waiter))
	}
	return out
}

func (p *Pool) queue(tier string) *list.List {
	q, ok := p.tiers[tier]
	if !ok {
		q = list.New()
		p.tiers[tier] = q
	}
	return q
}

// unlink must be called with mu held.
func (p *Pool) unlink(e *list.Element) Waiter {
	w := e.Value.(Waiter)
	q := p.tiers[w.Tier]
	q.Remove(e)
	if q.Len() == 0 {
		delete(p.tiers, w.Tier)
	}
	delete(p.index, w.SessionID)
	return w
}
