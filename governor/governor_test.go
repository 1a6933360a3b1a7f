package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// fakeUsage is an in-memory consumption store.
type fakeUsage struct {
	mu      sync.Mutex
	samples []sample
}

type sample struct {
	tenantID string
	tier     tier.Tier
	at       time.Time
}

func (s *fakeUsage) RecordDispatch(_ context.Context, tenantID string, t tier.Tier, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample{tenantID, t, at})
	return nil
}

func (s *fakeUsage) ConsumptionWindow(_ context.Context, tenantID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sm := range s.samples {
		if sm.tenantID == tenantID && !sm.at.Before(from) && sm.at.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *fakeUsage) ObservedTenants(_ context.Context, from, to time.Time) (map[string]tier.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]tier.Tier)
	for _, sm := range s.samples {
		if !sm.at.Before(from) && sm.at.Before(to) {
			out[sm.tenantID] = sm.tier
		}
	}
	return out, nil
}

// fakePenalty records SetPenalty calls.
type fakePenalty struct {
	mu      sync.Mutex
	factors map[string]float64
}

func (p *fakePenalty) SetPenalty(_ context.Context, tenantID string, _ tier.Tier, factor float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.factors == nil {
		p.factors = make(map[string]float64)
	}
	p.factors[tenantID] = factor
	return nil
}

func (p *fakePenalty) factor(tenantID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.factors[tenantID]
	if !ok {
		return 1
	}
	return f
}

// testTiers keeps Free at a 20% hard cap, so a tenant holding more
// than a fifth of the window's total dispatches is over-cap.
func testTiers() tier.Set {
	s := tier.DefaultSet()
	s[tier.Free] = tier.Config{FairSharePercent: 5, HardCapPercent: 20, SustainedRate: 1, BurstCapacity: 5}
	return s
}

type fixture struct {
	gov     *Governor
	usage   *fakeUsage
	penalty *fakePenalty
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		usage:   &fakeUsage{},
		penalty: &fakePenalty{},
		now:     time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	f.gov = New(f.usage, f.penalty, Config{
		Window:   10 * time.Second,
		Sustain:  3,
		Cooldown: 5,
		Penalty:  0.25,
		Tiers:    testTiers(),
	}, WithClock(func() time.Time { return f.now }))
	return f
}

// burst records n dispatches for the tenant inside the current window.
func (f *fixture) burst(tenantID string, n int) {
	for range n {
		f.usage.RecordDispatch(context.Background(), tenantID, tier.Free, f.now)
	}
}

// ---------------------------------------------------------------------------
// Throttling
// ---------------------------------------------------------------------------

func TestScan_ThrottlesAfterSustainedOverCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.burst("noisy", 50) // cap is 10

	// Two over-cap scans are not enough.
	for range 2 {
		if err := f.gov.Scan(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if f.gov.TenantState("noisy") != StateNormal {
		t.Fatal("two over-cap scans must not throttle yet")
	}
	if f.penalty.factor("noisy") != 1 {
		t.Fatal("no penalty before the sustain threshold")
	}

	// The third consecutive scan trips the throttle.
	if err := f.gov.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if f.gov.TenantState("noisy") != StateThrottled {
		t.Fatal("third over-cap scan must throttle")
	}
	if got := f.penalty.factor("noisy"); got != 0.25 {
		t.Fatalf("penalty factor = %v, want 0.25", got)
	}
}

func TestScan_BriefSpikeDoesNotThrottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.burst("spiky", 50)
	f.gov.Scan(ctx)
	f.gov.Scan(ctx)

	// The spike ages out of the window before the third scan.
	f.now = f.now.Add(11 * time.Second)
	f.gov.Scan(ctx)

	f.burst("spiky", 50)
	f.gov.Scan(ctx)
	if f.gov.TenantState("spiky") != StateNormal {
		t.Fatal("non-consecutive over-cap scans must not throttle")
	}
}

func TestScan_CompliantTenantUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.burst("good", 5) // 5% of the window's 100 dispatches, cap is 20
	f.burst("busy", 95)

	for range 10 {
		f.gov.Scan(ctx)
	}
	if f.gov.TenantState("good") != StateNormal {
		t.Fatal("compliant tenant must stay Normal")
	}
	if f.penalty.factor("good") != 1 {
		t.Fatal("compliant tenant must carry no penalty")
	}
}

func TestScan_ThrottlesClusterMonopolyUnderAdmissionRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Rate 100/sec over a 10s window admits up to 1000 requests, so 400
	// dispatches never trip the tenant's own bucket. Alone on the
	// cluster it still holds 100% of the window against a 20% cap.
	tiers := testTiers()
	tiers[tier.Free] = tier.Config{FairSharePercent: 5, HardCapPercent: 20, SustainedRate: 100, BurstCapacity: 100}
	f.gov.cfg.Tiers = tiers

	f.burst("hog", 400)
	for range 3 {
		if err := f.gov.Scan(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if f.gov.TenantState("hog") != StateThrottled {
		t.Fatal("tenant monopolizing the cluster must be throttled even under its admission rate")
	}
	if got := f.penalty.factor("hog"); got != 0.25 {
		t.Fatalf("penalty factor = %v, want 0.25", got)
	}
}

// ---------------------------------------------------------------------------
// Cooldown
// ---------------------------------------------------------------------------

func TestScan_CooldownRestoresRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.burst("noisy", 50)
	for range 3 {
		f.gov.Scan(ctx)
	}
	if f.gov.TenantState("noisy") != StateThrottled {
		t.Fatal("precondition: tenant throttled")
	}

	// Usage ages out; tenant is compliant (quiet) from here on.
	f.now = f.now.Add(11 * time.Second)

	for i := range 4 {
		f.gov.Scan(ctx)
		if f.gov.TenantState("noisy") != StateThrottled {
			t.Fatalf("throttle cleared after %d compliant scans, want 5", i+1)
		}
	}

	f.gov.Scan(ctx) // fifth compliant scan
	if f.gov.TenantState("noisy") != StateNormal {
		t.Fatal("five compliant scans must clear the throttle")
	}
	if got := f.penalty.factor("noisy"); got != 1 {
		t.Fatalf("penalty after cooldown = %v, want 1", got)
	}
}

func TestScan_OverCapDuringCooldownResetsCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.burst("noisy", 50)
	for range 3 {
		f.gov.Scan(ctx)
	}

	f.now = f.now.Add(11 * time.Second)
	for range 4 {
		f.gov.Scan(ctx) // four compliant scans
	}

	f.burst("noisy", 50) // relapse
	f.gov.Scan(ctx)

	f.now = f.now.Add(11 * time.Second)
	for range 4 {
		f.gov.Scan(ctx)
	}
	if f.gov.TenantState("noisy") != StateThrottled {
		t.Fatal("relapse must reset the cooldown count")
	}
	f.gov.Scan(ctx)
	if f.gov.TenantState("noisy") != StateNormal {
		t.Fatal("five fresh compliant scans must clear the throttle")
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestScan_EmitsTransitions(t *testing.T) {
	var got []Transition
	f := newFixture(t)
	f.gov.onChange = func(tr Transition) { got = append(got, tr) }
	ctx := context.Background()

	f.burst("noisy", 50)
	for range 3 {
		f.gov.Scan(ctx)
	}
	f.now = f.now.Add(11 * time.Second)
	for range 5 {
		f.gov.Scan(ctx)
	}

	if len(got) != 2 {
		t.Fatalf("transitions = %d, want 2", len(got))
	}
	if got[0].To != StateThrottled || got[0].TenantID != "noisy" {
		t.Fatalf("first transition = %+v", got[0])
	}
	if got[0].Consumption != 50 || got[0].Cap != 10 {
		t.Fatalf("transition consumption/cap = %d/%d, want 50/10", got[0].Consumption, got[0].Cap)
	}
	if got[1].To != StateNormal {
		t.Fatalf("second transition = %+v", got[1])
	}
}

func TestThrottledCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.burst("a", 50)
	f.burst("b", 50)
	for range 3 {
		f.gov.Scan(ctx)
	}
	if n := f.gov.ThrottledCount(); n != 2 {
		t.Fatalf("throttled count = %d, want 2", n)
	}
}
