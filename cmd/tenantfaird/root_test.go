package main

import (
	"testing"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/tier"
)

func TestBuildGuard_BoundsFollowFairShares(t *testing.T) {
	cfg := tenantfair.DefaultConfig() // pool 10, shares 50/30/15/5

	g := buildGuard(cfg)

	// Enterprise: 50% of 10 slots + 1 slack = 6.
	for i := range 6 {
		if !g.Acquire(tier.Enterprise, "acme") {
			t.Fatalf("enterprise acquire %d refused, want 6 slots", i+1)
		}
	}
	if g.Acquire(tier.Enterprise, "acme") {
		t.Fatal("enterprise must be bounded below the full pool")
	}

	// Free: floor(5% of 10) + 1 slack = 1.
	if !g.Acquire(tier.Free, "acme") {
		t.Fatal("free tier must keep at least one slot")
	}
	if g.Acquire(tier.Free, "acme") {
		t.Fatal("free tier must be bounded to its share")
	}

	g.Release(tier.Free, "acme")
	if !g.Acquire(tier.Free, "acme") {
		t.Fatal("release must free the free tier's slot")
	}
}
