// Package channel fans match events out to the sessions joined to a match.
// Frames for one match are handed to every member in broadcast order; there
// is no persistence, a session that joins later never sees earlier events.
package channel

import (
	"encoding/json"
	"sync"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

// Wire event names.
const (
	EventStatusUpdate = "statusUpdate"
	EventMatchFound   = "matchFound"
	EventGameStart    = "gameStart"
	EventUpdateBoard  = "updateBoard"
	EventGameOver     = "gameOver"
)

// Frame is the wire envelope.
type Frame struct {
	T string `json:"t"`
	M any    `json:"m,omitempty"`
}

// Encode renders one frame.
func Encode(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(Frame{T: event, M: payload})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "channel: encode "+event, err)
	}
	return b, nil
}

// Subscriber receives encoded frames. Deliver must not block; it reports
// false when the frame was dropped.
type Subscriber interface {
	Deliver(frame []byte) bool
}

// Broker is safe for concurrent use.
type Broker struct {
	mu    sync.Mutex
	subs  map[string]Subscriber
	rooms map[string]map[string]struct{} // match -> sessions
}

func NewBroker() *Broker {
	return &Broker{
		subs:  map[string]Subscriber{},
		rooms: map[string]map[string]struct{}{},
	}
}

// Register attaches a live connection to a session id.
func (b *Broker) Register(sessionID string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sessionID] = s
}

// Unregister detaches the session and drops it from every match.
func (b *Broker) Unregister(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sessionID)
	for id, members := range b.rooms {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(b.rooms, id)
		}
	}
}

func (b *Broker) Join(matchID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[matchID]
	if !ok {
		members = map[string]struct{}{}
		b.rooms[matchID] = members
	}
	members[sessionID] = struct{}{}
}

func (b *Broker) Leave(matchID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if members, ok := b.rooms[matchID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(b.rooms, matchID)
		}
	}
}

// Close drops every member of the match.
func (b *Broker) Close(matchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, matchID)
}

// Members lists the sessions joined to a match.
func (b *Broker) Members(matchID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.rooms[matchID]))
	for s := range b.rooms[matchID] {
		out = append(out, s)
	}
	return out
}

// Broadcast delivers the event to every session joined to the match and
// returns how many accepted it. The frame is encoded once and handed out
// under the broker lock, so concurrent broadcasts never interleave.
func (b *Broker) Broadcast(matchID, event string, payload any) (int, error) {
	frame, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.rooms[matchID] {
		if sub, ok := b.subs[s]; ok && sub.Deliver(frame) {
			n++
		}
	}
	return n, nil
}

// Send delivers the event to one session.
func (b *Broker) Send(sessionID, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[sessionID]
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "channel: session %s not connected", sessionID)
	}
	if !sub.Deliver(frame) {
		return apperrors.Newf(apperrors.CodeInternal, "channel: session %s buffer full", sessionID)
	}
	return nil
}
