package match

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/game"
)

// View is a point-in-time copy of a match, safe to read without locks.
type View struct {
	ID            string     `json:"matchId"`
	Players       [2]string  `json:"players"`
	Stake         string     `json:"stake"`
	Phase         string     `json:"phase"`
	Board         game.Board `json:"board"`
	Moves         int        `json:"moves"`
	Turn          int        `json:"turn"`
	Staked        [2]bool    `json:"staked"`
	EscrowTx      string     `json:"escrowTx,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StakeDeadline time.Time  `json:"stakeDeadline"`
}

// Registry indexes live matches by id and by player session.
type Registry struct {
	mu       sync.RWMutex
	matches  map[string]*Match
	sessions map[string]string // session -> match id
}

func NewRegistry() *Registry {
	return &Registry{
		matches:  map[string]*Match{},
		sessions: map[string]string{},
	}
}

// Create adds m. It fails if the id is taken or either player already sits in
// a match.
func (r *Registry) Create(m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.ID]; ok {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "registry: match %s exists", m.ID)
	}
	for _, p := range m.Players {
		if id, ok := r.sessions[p.SessionID]; ok {
			return apperrors.Newf(apperrors.CodeInvalidRequest, "registry: session already in match %s", id)
		}
	}
	r.matches[m.ID] = m
	for _, p := range m.Players {
		r.sessions[p.SessionID] = m.ID
	}
	return nil
}

func (r *Registry) Get(id string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	return m, ok
}

// BySession finds the match a session plays in.
func (r *Registry) BySession(sessionID string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	m, ok := r.matches[id]
	return m, ok
}

// Do runs fn with the match locked. The registry lock is not held while fn
// runs.
func (r *Registry) Do(id string, fn func(*Match) error) error {
	m, ok := r.Get(id)
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "registry: no match %s", id)
	}
	return m.Do(fn)
}

// Remove deletes the match. It reports true only for the call that actually
// removed it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return false
	}
	delete(r.matches, id)
	for _, p := range m.Players {
		if r.sessions[p.SessionID] == id {
			delete(r.sessions, p.SessionID)
		}
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// Snapshot copies every match, oldest first.
func (r *Registry) Snapshot() []View {
	r.mu.RLock()
	ms := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		ms = append(ms, m)
	}
	r.mu.RUnlock()

	out := make([]View, 0, len(ms))
	for _, m := range ms {
		_ = m.Do(func(m *Match) error {
			out = append(out, m.View())
			return nil
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// View must be called with the match locked.
func (m *Match) View() View {
	return View{
		ID:            m.ID,
		Players:       m.Addresses(),
		Stake:         m.Stake.String(),
		Phase:         m.Phase.String(),
		Board:         m.Board,
		Moves:         m.Board.Moves(),
		Turn:          m.Turn,
		Staked:        m.Staked,
		EscrowTx:      m.EscrowTx,
		CreatedAt:     m.CreatedAt,
		StakeDeadline: m.StakeDeadline,
	}
}
