package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync/atomic"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

type tierFile struct {
	Stakes []any `toml:"stakes"`
}

// ParseTiers decodes a tier document:
//
//	stakes = ["50", "100", 250]
func ParseTiers(data []byte) ([]decimal.Decimal, error) {
	var f tierFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tiers: decode: %w", err)
	}
	out := make([]decimal.Decimal, 0, len(f.Stakes))
	for _, v := range f.Stakes {
		d, err := decimal.NewFromString(fmt.Sprint(v))
		if err != nil {
			return nil, fmt.Errorf("tiers: stake %v: %w", v, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("tiers: stake %s is not positive", d)
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadTiers reads the tier file. A missing file yields no tiers.
func LoadTiers(path string) ([]decimal.Decimal, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tiers: read %s: %w", path, err)
	}
	return ParseTiers(data)
}

// TierSet is the live stake allowlist. An empty set allows any positive
// stake. Safe for concurrent use.
type TierSet struct {
	v atomic.Pointer[map[string]struct{}]
}

func NewTierSet(stakes ...decimal.Decimal) *TierSet {
	s := &TierSet{}
	s.Replace(stakes)
	return s
}

// Replace swaps the allowlist atomically.
func (s *TierSet) Replace(stakes []decimal.Decimal) {
	m := make(map[string]struct{}, len(stakes))
	for _, d := range stakes {
		m[d.String()] = struct{}{}
	}
	s.v.Store(&m)
}

// Allowed reports whether a stake may be matched.
func (s *TierSet) Allowed(d decimal.Decimal) bool {
	if !d.IsPositive() {
		return false
	}
	m := *s.v.Load()
	if len(m) == 0 {
		return true
	}
	_, ok := m[d.String()]
	return ok
}

// List returns the configured tiers sorted numerically.
func (s *TierSet) List() []string {
	m := *s.v.Load()
	ds := make([]decimal.Decimal, 0, len(m))
	for k := range m {
		ds = append(ds, decimal.RequireFromString(k))
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].LessThan(ds[j]) })
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
