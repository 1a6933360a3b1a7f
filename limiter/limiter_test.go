package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// fakeStore is an in-memory bucket store with the same atomicity
// contract as the shared backends.
type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]Bucket
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: make(map[string]Bucket)}
}

func (s *fakeStore) MutateBucket(_ context.Context, tenantID string, fn func(Bucket, bool) (Bucket, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[tenantID]
	next, write := fn(b, ok)
	if write {
		s.buckets[tenantID] = next
	}
	return nil
}

func (s *fakeStore) GetBucket(_ context.Context, tenantID string) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[tenantID]
	return b, ok, nil
}

// testTiers gives Free a rate of 1 token/sec with a burst of 5, which
// makes refill arithmetic easy to assert exactly.
func testTiers() tier.Set {
	s := tier.DefaultSet()
	s[tier.Free] = tier.Config{FairSharePercent: 5, HardCapPercent: 20, SustainedRate: 1, BurstCapacity: 5}
	return s
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	return New(newFakeStore(), testTiers(), WithClock(clock.Now)), clock
}

// ---------------------------------------------------------------------------
// Burst and refill arithmetic
// ---------------------------------------------------------------------------

func TestAdmit_BurstThenReject(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	// Exactly burst_capacity requests admitted instantaneously.
	for i := range 5 {
		res, err := l.Admit(ctx, "acme", tier.Free)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("admit %d should be allowed", i)
		}
	}

	// The next one is rejected with a retry hint.
	res, err := l.Admit(ctx, "acme", tier.Free)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("sixth request must be rejected")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Fatalf("retry after = %s, want (0, 1s]", res.RetryAfter)
	}
}

func TestAdmit_ExactlyOneAfterRefill(t *testing.T) {
	l, clock := newLimiter(t)
	ctx := context.Background()

	for range 5 {
		if res, _ := l.Admit(ctx, "acme", tier.Free); !res.Allowed {
			t.Fatal("burst admission failed")
		}
	}

	// 1/sustained_rate elapses: exactly one token accrues.
	clock.Advance(time.Second)

	res, _ := l.Admit(ctx, "acme", tier.Free)
	if !res.Allowed {
		t.Fatal("one token should have accrued after 1/rate seconds")
	}
	res, _ = l.Admit(ctx, "acme", tier.Free)
	if res.Allowed {
		t.Fatal("second request after single-token refill must be rejected")
	}
}

func TestAdmit_RepeatedRejectionsAreExact(t *testing.T) {
	l, clock := newLimiter(t)
	ctx := context.Background()

	for range 5 {
		l.Admit(ctx, "acme", tier.Free)
	}

	// Hammering admission while exhausted must not drift the balance.
	for range 10 {
		if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
			t.Fatal("exhausted bucket must keep rejecting")
		}
	}

	clock.Advance(3 * time.Second)
	admitted := 0
	for range 10 {
		if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("3s at 1 token/sec must admit exactly 3, got %d", admitted)
	}
}

func TestAdmit_CapsAtBurst(t *testing.T) {
	l, clock := newLimiter(t)
	ctx := context.Background()

	l.Admit(ctx, "acme", tier.Free) // persist initial bucket, spend one

	// A long idle period must not accrue beyond the burst capacity.
	clock.Advance(time.Hour)
	admitted := 0
	for range 20 {
		if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("idle refill must cap at burst (5), got %d", admitted)
	}
}

// ---------------------------------------------------------------------------
// Refunds
// ---------------------------------------------------------------------------

func TestRefund_RestoresSpentToken(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for range 5 {
		l.Admit(ctx, "acme", tier.Free)
	}
	if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
		t.Fatal("precondition: bucket exhausted")
	}

	if err := l.Refund(ctx, "acme"); err != nil {
		t.Fatal(err)
	}
	if res, _ := l.Admit(ctx, "acme", tier.Free); !res.Allowed {
		t.Fatal("refunded token must admit one more request")
	}
	if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
		t.Fatal("a single refund must restore exactly one token")
	}
}

func TestRefund_CapsAtBurst(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	l.Admit(ctx, "acme", tier.Free) // 4 tokens left of burst 5

	for range 10 {
		if err := l.Refund(ctx, "acme"); err != nil {
			t.Fatal(err)
		}
	}

	admitted := 0
	for range 20 {
		if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("refunds must cap at burst (5), got %d", admitted)
	}
}

func TestRefund_UnknownTenantIsNoOp(t *testing.T) {
	l, _ := newLimiter(t)
	if err := l.Refund(context.Background(), "ghost"); err != nil {
		t.Fatal(err)
	}

	// A later first admission still starts from a full burst.
	admitted := 0
	for range 20 {
		if res, _ := l.Admit(context.Background(), "ghost", tier.Free); res.Allowed {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("first-contact burst = %d, want 5", admitted)
	}
}

// ---------------------------------------------------------------------------
// Tenant isolation and penalties
// ---------------------------------------------------------------------------

func TestAdmit_TenantsIndependent(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for range 5 {
		l.Admit(ctx, "noisy", tier.Free)
	}
	if res, _ := l.Admit(ctx, "noisy", tier.Free); res.Allowed {
		t.Fatal("noisy tenant should be exhausted")
	}
	if res, _ := l.Admit(ctx, "quiet", tier.Free); !res.Allowed {
		t.Fatal("a different tenant's bucket must be unaffected")
	}
}

func TestSetPenalty_SlowsRefill(t *testing.T) {
	l, clock := newLimiter(t)
	ctx := context.Background()

	for range 5 {
		l.Admit(ctx, "acme", tier.Free)
	}
	if err := l.SetPenalty(ctx, "acme", tier.Free, 0.25); err != nil {
		t.Fatal(err)
	}

	// At factor 0.25 the effective rate is 0.25 tokens/sec: one second
	// is no longer enough for a token.
	clock.Advance(time.Second)
	if res, _ := l.Admit(ctx, "acme", tier.Free); res.Allowed {
		t.Fatal("penalized refill must not yield a token after 1s")
	}

	clock.Advance(3 * time.Second) // 4s total * 0.25 = 1 token
	if res, _ := l.Admit(ctx, "acme", tier.Free); !res.Allowed {
		t.Fatal("4s at penalized rate must yield exactly one token")
	}
}

func TestSetPenalty_ClearRestoresRate(t *testing.T) {
	l, clock := newLimiter(t)
	ctx := context.Background()

	for range 5 {
		l.Admit(ctx, "acme", tier.Free)
	}
	l.SetPenalty(ctx, "acme", tier.Free, 0.25)
	l.SetPenalty(ctx, "acme", tier.Free, 1)

	clock.Advance(time.Second)
	if res, _ := l.Admit(ctx, "acme", tier.Free); !res.Allowed {
		t.Fatal("cleared penalty must restore the configured rate")
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestAdmit_ConcurrentNoOverspend(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Admit(ctx, "acme", tier.Free)
			if err != nil {
				return
			}
			if res.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Fatalf("concurrent burst must admit exactly the burst capacity (5), got %d", admitted)
	}
}
