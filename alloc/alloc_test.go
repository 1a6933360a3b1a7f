package alloc

import (
	"testing"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

func policy() Policy {
	return Policy{Tiers: tier.DefaultSet(), Capped: true}
}

func deepBacklog() map[tier.Tier]int {
	return map[tier.Tier]int{
		tier.Enterprise:   1000,
		tier.Professional: 1000,
		tier.Starter:      1000,
		tier.Free:         1000,
	}
}

// ---------------------------------------------------------------------------
// Base shares
// ---------------------------------------------------------------------------

func TestCompute_SharesUnderFullBacklog(t *testing.T) {
	grants := Compute(deepBacklog(), 100, policy())

	want := map[tier.Tier]int{
		tier.Enterprise:   50,
		tier.Professional: 30,
		tier.Starter:      15,
		tier.Free:         5,
	}
	for tr, w := range want {
		if grants[tr] != w {
			t.Fatalf("%s granted %d, want %d", tr, grants[tr], w)
		}
	}
}

func TestCompute_EmptyTierGetsZero(t *testing.T) {
	depths := deepBacklog()
	depths[tier.Starter] = 0
	grants := Compute(depths, 100, policy())
	if grants[tier.Starter] != 0 {
		t.Fatalf("empty tier granted %d, want 0", grants[tier.Starter])
	}
}

func TestCompute_NoStarvationFloor(t *testing.T) {
	// Capacity 10: Free's floor(10*5%) = 0, but its backlog guarantees
	// a minimum of one credit.
	grants := Compute(deepBacklog(), 10, policy())
	if grants[tier.Free] < 1 {
		t.Fatalf("backlogged Free tier granted %d, want >= 1", grants[tier.Free])
	}
}

func TestCompute_ZeroCapacity(t *testing.T) {
	grants := Compute(deepBacklog(), 0, policy())
	for tr, g := range grants {
		if g != 0 {
			t.Fatalf("%s granted %d with zero capacity", tr, g)
		}
	}
}

// ---------------------------------------------------------------------------
// Redistribution
// ---------------------------------------------------------------------------

func TestCompute_IdleCapacityRedistributedUpToCap(t *testing.T) {
	// Only Enterprise has backlog. Its base is 50; redistribution may
	// lift it only to its hard cap (20% of 100 is below the base, so
	// the ceiling clamps at the base grant — nothing is added).
	depths := map[tier.Tier]int{tier.Enterprise: 1000}
	grants := Compute(depths, 100, policy())

	if grants[tier.Enterprise] != 50 {
		t.Fatalf("enterprise granted %d, want 50 (cap below base keeps base)", grants[tier.Enterprise])
	}
}

func TestCompute_IdleCapacityLiftsLowTier(t *testing.T) {
	// Scenario: a lone Free-tier request with everything else idle must
	// be granted a credit immediately — idle-capacity redistribution
	// plus the no-starvation floor, not its 5% share, decides.
	depths := map[tier.Tier]int{tier.Free: 1}
	grants := Compute(depths, 10, policy())
	if grants[tier.Free] < 1 {
		t.Fatalf("lone free request granted %d credits, want >= 1", grants[tier.Free])
	}
}

func TestCompute_UncappedRedistribution(t *testing.T) {
	p := policy()
	p.Capped = false
	depths := map[tier.Tier]int{tier.Enterprise: 1000}
	grants := Compute(depths, 100, p)
	if grants[tier.Enterprise] != 100 {
		t.Fatalf("uncapped lone tier granted %d, want full capacity 100", grants[tier.Enterprise])
	}
}

func TestCompute_ShortQueueLeftoverFlowsDown(t *testing.T) {
	// Enterprise has only 5 queued; its unused 45 credits flow to the
	// other backlogged tiers in share order, bounded by their caps
	// (20% of 100 = 20 each).
	depths := deepBacklog()
	depths[tier.Enterprise] = 5
	grants := Compute(depths, 100, policy())

	if grants[tier.Enterprise] != 5 {
		t.Fatalf("enterprise granted %d, want its depth 5", grants[tier.Enterprise])
	}
	// Professional base 30 is above its 20-cap ceiling, so it keeps 30.
	if grants[tier.Professional] != 30 {
		t.Fatalf("professional granted %d, want 30", grants[tier.Professional])
	}
	// Starter base 15 may rise to its 20 ceiling.
	if grants[tier.Starter] != 20 {
		t.Fatalf("starter granted %d, want 20", grants[tier.Starter])
	}
	// Free base 5 may rise to its 20 ceiling.
	if grants[tier.Free] != 20 {
		t.Fatalf("free granted %d, want 20", grants[tier.Free])
	}
}

func TestCompute_Deterministic(t *testing.T) {
	depths := deepBacklog()
	depths[tier.Enterprise] = 3
	first := Compute(depths, 100, policy())
	for range 50 {
		again := Compute(depths, 100, policy())
		for _, tr := range tier.All() {
			if again[tr] != first[tr] {
				t.Fatalf("non-deterministic grant for %s: %d vs %d", tr, again[tr], first[tr])
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Fairness convergence
// ---------------------------------------------------------------------------

func TestCompute_ConvergesToSharesOverWindow(t *testing.T) {
	// With every tier permanently backlogged, cumulative grants over
	// 100 ticks must land within ±5% of the configured shares.
	totals := make(map[tier.Tier]int)
	grand := 0
	for range 100 {
		grants := Compute(deepBacklog(), 10, policy())
		for tr, g := range grants {
			totals[tr] += g
			grand += g
		}
	}

	for _, tr := range tier.All() {
		share := float64(totals[tr]) / float64(grand) * 100
		want := float64(tier.DefaultSet()[tr].FairSharePercent)
		if diff := share - want; diff > 5 || diff < -5 {
			t.Fatalf("%s converged to %.1f%%, want %.0f%% ±5", tr, share, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func TestLedger_ConsumeUntilExhausted(t *testing.T) {
	l := NewLedger(time.Now(), map[tier.Tier]int{tier.Enterprise: 2})

	if !l.TryConsume(tier.Enterprise) || !l.TryConsume(tier.Enterprise) {
		t.Fatal("first two consumes must succeed")
	}
	if l.TryConsume(tier.Enterprise) {
		t.Fatal("third consume must fail, grant is 2")
	}
	if l.TryConsume(tier.Free) {
		t.Fatal("tier without grant must not consume")
	}
}

func TestLedger_Refund(t *testing.T) {
	l := NewLedger(time.Now(), map[tier.Tier]int{tier.Starter: 1})
	if !l.TryConsume(tier.Starter) {
		t.Fatal("consume should succeed")
	}
	l.Refund(tier.Starter)
	if !l.TryConsume(tier.Starter) {
		t.Fatal("refunded credit must be consumable again")
	}
}

func TestLedger_Snapshot(t *testing.T) {
	tick := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	l := NewLedger(tick, map[tier.Tier]int{tier.Enterprise: 3, tier.Free: 1})
	l.TryConsume(tier.Enterprise)

	for _, a := range l.Snapshot() {
		if a.Tick != tick {
			t.Fatalf("snapshot tick = %v, want %v", a.Tick, tick)
		}
		if a.Tier == tier.Enterprise && (a.Granted != 3 || a.Consumed != 1) {
			t.Fatalf("enterprise snapshot = %+v", a)
		}
	}
}
