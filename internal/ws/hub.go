package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/Freakkio/Sector7/internal/channel"
	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/pool"
)

// ---------- message envelope ----------

// Msg is an inbound frame.
type Msg struct {
	T string          `json:"t"` // type
	M json.RawMessage `json:"m,omitempty"`
}

type findMatchMsg struct {
	Address string          `json:"address"`
	Stake   json.RawMessage `json:"stake"` // number or string
}

type playerStakedMsg struct {
	MatchID       string `json:"matchId"`
	PlayerAddress string `json:"playerAddress"`
}

type gameMoveMsg struct {
	MatchID string `json:"matchId"`
	Index   *int   `json:"index"`
}

const msgBadRequest = "Invalid request. Check your address and stake and try again."

// Coordinator is the game side of the hub.
type Coordinator interface {
	FindMatch(ctx context.Context, pl pool.Player, stake decimal.Decimal) error
	PlayerStaked(ctx context.Context, sessionID, matchID, address string) error
	Move(ctx context.Context, sessionID, matchID string, index int) error
	Disconnect(ctx context.Context, sessionID string) error
}

// ---------- hub ----------

type Hub struct {
	allowOrigins map[string]bool
	coord        Coordinator
	broker       *channel.Broker
	limit        rate.Limit
	burst        int
	pingEvery    time.Duration

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingEvery = d
		}
	}
}

// WithRateLimit bounds inbound frames per connection.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Hub) { h.limit, h.burst = rate.Limit(perSecond), burst }
}

func NewHub(allow []string, coord Coordinator, broker *channel.Broker, opts ...Option) *Hub {
	m := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			m[a] = true
		}
	}
	h := &Hub{
		allowOrigins: m,
		coord:        coord,
		broker:       broker,
		limit:        10,
		burst:        20,
		pingEvery:    15 * time.Second,
		clients:      map[*Client]struct{}{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Count is the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ---------- websockets ----------

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	client := newClient(c, h.limit, h.burst)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.broker.Register(client.id, client)
	log.Printf("client %s connected", client.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// writer
	go func() {
		ping := time.NewTicker(h.pingEvery)
		defer func() { ping.Stop(); _ = c.Close(websocket.StatusNormalClosure, "bye") }()
		for {
			select {
			case msg := <-client.send:
				if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			case <-ping.C:
				// The pong is only read while the reader is free, and a
				// ledger call can hold the reader for minutes, so the wait
				// runs beside the writer. One ping at a time.
				if client.pinging.CompareAndSwap(false, true) {
					go func() {
						defer client.pinging.Store(false)
						_ = c.Ping(ctx)
					}()
				}
			case <-client.done:
				return
			}
		}
	}()

	// reader
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if !client.limiter.Allow() {
			log.Printf("client %s rate limited, dropping frame", client.id)
			continue
		}
		var m Msg
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		h.handle(ctx, client, m)
	}

	close(client.done)
	h.broker.Unregister(client.id)
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	log.Printf("client %s disconnected", client.id)

	if err := h.coord.Disconnect(context.WithoutCancel(ctx), client.id); err != nil {
		log.Printf("client %s disconnect: %v", client.id, err)
	}
}

func (h *Hub) handle(ctx context.Context, client *Client, m Msg) {
	switch m.T {

	case "findMatch":
		var in findMatchMsg
		if err := json.Unmarshal(m.M, &in); err != nil {
			h.reject(client, "findMatch", apperrors.Wrap(apperrors.CodeInvalidRequest, "decode", err))
			return
		}
		stake, err := parseStake(in.Stake)
		if err != nil {
			h.reject(client, "findMatch", err)
			return
		}
		pl := pool.Player{SessionID: client.id, Address: strings.TrimSpace(in.Address)}
		log.Printf("client %s findMatch address=%s stake=%s", client.id, pl.Address, stake)
		if err := h.coord.FindMatch(ctx, pl, stake); err != nil {
			h.reject(client, "findMatch", err)
		}

	case "playerStaked":
		var in playerStakedMsg
		if err := json.Unmarshal(m.M, &in); err != nil {
			log.Printf("client %s playerStaked: malformed", client.id)
			return
		}
		if err := h.coord.PlayerStaked(ctx, client.id, in.MatchID, in.PlayerAddress); err != nil {
			log.Printf("client %s playerStaked %s: %v", client.id, in.MatchID, err)
		}

	case "gameMove":
		var in gameMoveMsg
		if err := json.Unmarshal(m.M, &in); err != nil || in.Index == nil {
			log.Printf("client %s gameMove: malformed", client.id)
			return
		}
		// Rejected moves are a no-op for the client.
		if err := h.coord.Move(ctx, client.id, in.MatchID, *in.Index); err != nil {
			log.Printf("client %s gameMove %s: %v", client.id, in.MatchID, err)
		}

	default:
		log.Printf("client %s unknown message %q", client.id, m.T)
	}
}

// reject logs the failure and tells the client in plain words when the
// request itself was at fault.
func (h *Hub) reject(client *Client, op string, err error) {
	log.Printf("client %s %s: %v", client.id, op, err)
	if apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		_ = h.broker.Send(client.id, channel.EventStatusUpdate, msgBadRequest)
	}
}

// parseStake accepts a JSON number or a decimal string.
func parseStake(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, apperrors.New(apperrors.CodeInvalidRequest, "stake is missing")
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "stake", err)
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "stake", err)
	}
	return d, nil
}
