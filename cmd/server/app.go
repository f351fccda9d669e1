package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Freakkio/Sector7/internal/channel"
	"github.com/Freakkio/Sector7/internal/config"
	"github.com/Freakkio/Sector7/internal/game"
	"github.com/Freakkio/Sector7/internal/journal"
	"github.com/Freakkio/Sector7/internal/ledger"
	"github.com/Freakkio/Sector7/internal/match"
	"github.com/Freakkio/Sector7/internal/metrics"
	"github.com/Freakkio/Sector7/internal/pool"
	"github.com/Freakkio/Sector7/internal/settlement"
	"github.com/Freakkio/Sector7/internal/ws"
)

// app is the wired server.
type app struct {
	cfg     config.Config
	store   *journal.Store
	engine  game.Engine
	tiers   *config.TierSet
	reg     *match.Registry
	coord   *settlement.Coordinator
	hub     *ws.Hub
	metrics *metrics.Metrics
	handler http.Handler

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New(), reg: match.NewRegistry()}

	store, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	if err := a.loadEngine(cfg.RulesScript); err != nil {
		a.Close()
		return nil, err
	}

	var stakes []decimal.Decimal
	if cfg.TiersFile != "" {
		if stakes, err = config.LoadTiers(cfg.TiersFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.tiers = config.NewTierSet(stakes...)

	gw := newGateway(cfg)
	opts := settlement.Options{
		MatchmakingTimeout: cfg.MatchmakingTimeout,
		StakeTimeout:       cfg.StakeTimeout,
		Engine:             a.engine,
		Tiers:              a.tiers,
		Journal:            store,
		Metrics:            a.metrics,
	}
	if cfg.LedgerVerifyStakes {
		opts.Verifier = gw
	}

	broker := channel.NewBroker()
	a.coord = settlement.New(pool.New(), a.reg, gw, broker, opts)
	a.hub = ws.NewHub(cfg.Origins(), a.coord, broker,
		ws.WithRateLimit(cfg.ClientRateLimit, cfg.ClientRateBurst),
		ws.WithPingInterval(cfg.ClientPingInterval))
	a.handler = cors(cfg.Origins(), a.routes())
	return a, nil
}

func (a *app) loadEngine(path string) error {
	if path == "" {
		a.engine = game.Classic{}
		return nil
	}
	e, err := game.LoadLuaEngine(path)
	if err != nil {
		return err
	}
	log.Printf("rules: evaluating boards with %s", path)
	a.engine = e
	a.closers = append(a.closers, e.Close)
	return nil
}

// newGateway builds the retrying ledger client.
func newGateway(cfg config.Config) *ledger.Retrying {
	opts := []ledger.Option{ledger.WithTimeout(cfg.LedgerTimeout)}
	if cfg.LedgerAuthSecret != "" {
		opts = append(opts, ledger.WithTokenSigner(ledger.NewTokenSigner(cfg.LedgerAuthSecret, "sector7", time.Minute)))
	}
	return ledger.NewRetrying(ledger.NewClient(cfg.LedgerURL, opts...), ledger.RetryPolicy{
		MaxAttempts:     cfg.LedgerMaxAttempts,
		InitialInterval: cfg.LedgerInitialBackoff,
		MaxInterval:     cfg.LedgerMaxBackoff,
	})
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.hub.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/matches", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"matches": a.reg.Snapshot(),
			"tiers":   a.tiers.List(),
			"clients": a.hub.Count(),
		})
	})
	return mux
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func cors(allow []string, next http.Handler) http.Handler {
	allowSet := map[string]struct{}{}
	for _, a := range allow {
		if a != "" {
			allowSet[a] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func describe(cfg config.Config) string {
	return fmt.Sprintf("ledger=%s verify_stakes=%t journal=%s tiers=%q rules=%q",
		cfg.LedgerURL, cfg.LedgerVerifyStakes, cfg.JournalPath, cfg.TiersFile, cfg.RulesScript)
}
