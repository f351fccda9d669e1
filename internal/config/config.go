// Package config loads the server configuration from the environment and the
// stake tier allowlist from an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration.
type Config struct {
	Port            string   `env:"PORT" envDefault:"8000"`
	OriginAllowlist []string `env:"ORIGIN_ALLOWLIST" envSeparator:","`

	LedgerURL            string        `env:"LEDGER_URL" envDefault:"http://localhost:3000"`
	LedgerTimeout        time.Duration `env:"LEDGER_TIMEOUT" envDefault:"60s"`
	LedgerMaxAttempts    uint          `env:"LEDGER_MAX_ATTEMPTS" envDefault:"5"`
	LedgerInitialBackoff time.Duration `env:"LEDGER_INITIAL_BACKOFF" envDefault:"500ms"`
	LedgerMaxBackoff     time.Duration `env:"LEDGER_MAX_BACKOFF" envDefault:"10s"`
	LedgerAuthSecret     string        `env:"LEDGER_AUTH_SECRET"`
	LedgerVerifyStakes   bool          `env:"LEDGER_VERIFY_STAKES" envDefault:"false"`

	MatchmakingTimeout time.Duration `env:"MATCHMAKING_TIMEOUT" envDefault:"10m"`
	StakeTimeout       time.Duration `env:"STAKE_TIMEOUT" envDefault:"5m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`

	TiersFile   string `env:"TIERS_FILE"`
	RulesScript string `env:"RULES_SCRIPT"`
	JournalPath string `env:"JOURNAL_PATH" envDefault:"sector7.db"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	ClientRateLimit    float64       `env:"CLIENT_RATE_LIMIT" envDefault:"10"`
	ClientRateBurst    int           `env:"CLIENT_RATE_BURST" envDefault:"20"`
	ClientPingInterval time.Duration `env:"CLIENT_PING_INTERVAL" envDefault:"15s"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT is empty"))
	}
	if strings.TrimSpace(c.LedgerURL) == "" {
		errs = append(errs, errors.New("LEDGER_URL is empty"))
	}
	if c.LedgerMaxAttempts == 0 {
		errs = append(errs, errors.New("LEDGER_MAX_ATTEMPTS must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"LEDGER_TIMEOUT":         c.LedgerTimeout,
		"LEDGER_INITIAL_BACKOFF": c.LedgerInitialBackoff,
		"LEDGER_MAX_BACKOFF":     c.LedgerMaxBackoff,
		"MATCHMAKING_TIMEOUT":    c.MatchmakingTimeout,
		"STAKE_TIMEOUT":          c.StakeTimeout,
		"SWEEP_INTERVAL":         c.SweepInterval,
		"CLIENT_PING_INTERVAL":   c.ClientPingInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.ClientRateLimit <= 0 || c.ClientRateBurst <= 0 {
		errs = append(errs, errors.New("CLIENT_RATE_LIMIT and CLIENT_RATE_BURST must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Origins returns the websocket origin allowlist, defaulting to the local
// server itself.
func (c Config) Origins() []string {
	var out []string
	for _, o := range c.OriginAllowlist {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:" + c.Port, "http://127.0.0.1:" + c.Port}
	}
	return out
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }
