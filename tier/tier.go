// Package tier defines the closed set of tenant tiers and their
// scheduling parameters. Tiers carry an explicit ordinal — the queue's
// sort key is the tuple (ordinal, arrival time) compared lexicographically,
// so there is never dynamic dispatch on "what counts as higher priority".
package tier

import (
	"fmt"
	"sort"
)

// Tier is a coarse-grained tenant classification. Lower ordinal is
// served first within its allocated credits.
type Tier int

const (
	Enterprise Tier = iota
	Professional
	Starter
	Free
)

// All returns every tier in ordinal (priority) order.
func All() []Tier {
	return []Tier{Enterprise, Professional, Starter, Free}
}

// String returns the lowercase wire name of the tier.
func (t Tier) String() string {
	switch t {
	case Enterprise:
		return "enterprise"
	case Professional:
		return "professional"
	case Starter:
		return "starter"
	case Free:
		return "free"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool { return t >= Enterprise && t <= Free }

// Parse converts a wire name back into a Tier.
func Parse(s string) (Tier, error) {
	switch s {
	case "enterprise":
		return Enterprise, nil
	case "professional":
		return Professional, nil
	case "starter":
		return Starter, nil
	case "free":
		return Free, nil
	default:
		return 0, fmt.Errorf("tier: unknown tier %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Config holds the scheduling parameters for one tier.
type Config struct {
	// FairSharePercent is the target percentage of total dispatch
	// capacity this tier receives under contention.
	FairSharePercent int `yaml:"fair_share_percent" json:"fair_share_percent"`

	// HardCapPercent is the maximum percentage of capacity any single
	// tenant in this tier may consume, regardless of idle capacity
	// elsewhere. It also bounds idle-capacity redistribution to the
	// tier; a cap below the fair share leaves the base grant intact
	// and only disables redistribution.
	HardCapPercent int `yaml:"hard_cap_percent" json:"hard_cap_percent"`

	// SustainedRate is the token bucket refill rate in requests/sec
	// for each tenant in this tier.
	SustainedRate float64 `yaml:"sustained_rate" json:"sustained_rate"`

	// BurstCapacity is the token bucket size for each tenant in this
	// tier. A tenant may submit up to BurstCapacity requests
	// instantaneously before refill pacing applies.
	BurstCapacity float64 `yaml:"burst_capacity" json:"burst_capacity"`
}

// Set maps every tier to its configuration.
type Set map[Tier]Config

// DefaultSet returns the production defaults: 50/30/15/5 fair shares
// with a uniform 20% per-tenant hard cap.
func DefaultSet() Set {
	return Set{
		Enterprise:   {FairSharePercent: 50, HardCapPercent: 20, SustainedRate: 50, BurstCapacity: 100},
		Professional: {FairSharePercent: 30, HardCapPercent: 20, SustainedRate: 20, BurstCapacity: 40},
		Starter:      {FairSharePercent: 15, HardCapPercent: 20, SustainedRate: 5, BurstCapacity: 10},
		Free:         {FairSharePercent: 5, HardCapPercent: 20, SustainedRate: 1, BurstCapacity: 5},
	}
}

// Validate checks the structural invariants: every tier present, every
// percentage in range, and fair shares summing to 100.
func (s Set) Validate() error {
	sum := 0
	for _, t := range All() {
		cfg, ok := s[t]
		if !ok {
			return fmt.Errorf("tier: missing config for %s", t)
		}
		if cfg.FairSharePercent < 0 || cfg.FairSharePercent > 100 {
			return fmt.Errorf("tier: %s fair share %d out of range", t, cfg.FairSharePercent)
		}
		if cfg.HardCapPercent < 0 || cfg.HardCapPercent > 100 {
			return fmt.Errorf("tier: %s hard cap %d out of range", t, cfg.HardCapPercent)
		}
		if cfg.SustainedRate <= 0 {
			return fmt.Errorf("tier: %s sustained rate must be positive", t)
		}
		if cfg.BurstCapacity < 1 {
			return fmt.Errorf("tier: %s burst capacity must be at least 1", t)
		}
		sum += cfg.FairSharePercent
	}
	if sum != 100 {
		return fmt.Errorf("tier: fair shares sum to %d, want 100", sum)
	}
	return nil
}

// ByShareDesc returns tiers ordered by fair share descending, ties
// broken by ordinal. Redistribution of idle capacity walks this order
// so outcomes are deterministic.
func (s Set) ByShareDesc() []Tier {
	tiers := All()
	sort.SliceStable(tiers, func(i, j int) bool {
		si, sj := s[tiers[i]].FairSharePercent, s[tiers[j]].FairSharePercent
		if si != sj {
			return si > sj
		}
		return tiers[i] < tiers[j]
	})
	return tiers
}
