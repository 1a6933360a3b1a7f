// Package alloc computes per-tier dequeue credits for each scheduling
// tick. The math is a pure function of observed queue depths and
// capacity, separated from the timer loop that invokes it, so fairness
// properties are testable without running real timers.
package alloc

import (
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// Policy controls how credits are computed.
type Policy struct {
	// Tiers supplies the fair shares and hard caps.
	Tiers tier.Set

	// Capped bounds idle-capacity redistribution by each tier's hard
	// cap percentage. When false a lone busy tier may absorb the full
	// capacity.
	Capped bool
}

// Compute returns the number of dequeue credits each tier may consume
// this tick.
//
// Each backlogged tier starts at floor(capacity * fair_share_percent),
// raised to a minimum of 1 credit so the lowest tier is never starved
// while it has work. Credits a tier cannot use (empty or short queue)
// are redistributed to backlogged tiers, highest fair share first with
// ties broken by tier ordinal, each tier bounded by its hard cap when
// the policy is capped. Unused credits never roll over to later ticks.
func Compute(depths map[tier.Tier]int, capacity int, p Policy) map[tier.Tier]int {
	grants := make(map[tier.Tier]int, len(tier.All()))
	if capacity <= 0 {
		return grants
	}

	granted := 0
	for _, t := range tier.All() {
		depth := depths[t]
		if depth <= 0 {
			grants[t] = 0
			continue
		}

		g := capacity * p.Tiers[t].FairSharePercent / 100
		if g < 1 {
			// No-starvation floor. This may overshoot a tiny capacity;
			// the queue itself bounds actual dispatches.
			g = 1
		}
		if g > depth {
			g = depth
		}
		grants[t] = g
		granted += g
	}

	leftover := capacity - granted
	if leftover <= 0 {
		return grants
	}

	for _, t := range p.Tiers.ByShareDesc() {
		if leftover == 0 {
			break
		}
		depth := depths[t]
		if depth <= grants[t] {
			continue
		}

		ceiling := capacity
		if p.Capped {
			ceiling = capacity * p.Tiers[t].HardCapPercent / 100
			if ceiling < grants[t] {
				ceiling = grants[t]
			}
		}

		extra := depth - grants[t]
		if room := ceiling - grants[t]; extra > room {
			extra = room
		}
		if extra > leftover {
			extra = leftover
		}
		grants[t] += extra
		leftover -= extra
	}

	return grants
}

// Allocation is the per-tier record of one scheduling tick.
type Allocation struct {
	Tier     tier.Tier `json:"tier"`
	Granted  int       `json:"granted"`
	Consumed int       `json:"consumed"`
	Tick     time.Time `json:"tick"`
}
