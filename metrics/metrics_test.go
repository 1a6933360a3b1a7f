package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/hook"
	"github.com/jabbala/tenantfair/metrics"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

func newCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	return metrics.New(prometheus.NewRegistry())
}

func testRequest(tr tier.Tier) *request.ScheduledRequest {
	return request.New("acme", tr, nil, time.Now().UTC(), 30*time.Second)
}

func TestCollector_ImplementsHookInterfaces(t *testing.T) {
	var l hook.Listener = newCollector(t)
	if _, ok := l.(hook.RequestDispatched); !ok {
		t.Fatal("collector must implement hook.RequestDispatched")
	}
	if _, ok := l.(hook.RequestRejected); !ok {
		t.Fatal("collector must implement hook.RequestRejected")
	}
	if _, ok := l.(hook.TickAllocated); !ok {
		t.Fatal("collector must implement hook.TickAllocated")
	}
}

func TestCollector_RejectionsByReason(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	c.OnRequestRejected(ctx, "acme", tier.Free, "rate_limited")
	c.OnRequestRejected(ctx, "acme", tier.Free, "rate_limited")
	c.OnRequestRejected(ctx, "acme", tier.Free, "capacity_exhausted")

	if got := testutil.ToFloat64(c.RejectionCounter(tier.Free, "rate_limited")); got != 2 {
		t.Fatalf("rate_limited rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.RejectionCounter(tier.Free, "capacity_exhausted")); got != 1 {
		t.Fatalf("capacity_exhausted rejections = %v, want 1", got)
	}
}

func TestCollector_DispatchAndCompletion(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()
	req := testRequest(tier.Enterprise)

	c.OnRequestDispatched(ctx, req, 2*time.Second)
	c.OnRequestCompleted(ctx, req, time.Second, nil)
	c.OnRequestCompleted(ctx, req, time.Second, errors.New("bad gateway"))

	if got := testutil.ToFloat64(c.DispatchCounter(tier.Enterprise)); got != 1 {
		t.Fatalf("dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.CompletionCounter(tier.Enterprise, "success")); got != 1 {
		t.Fatalf("success completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.CompletionCounter(tier.Enterprise, "error")); got != 1 {
		t.Fatalf("error completions = %v, want 1", got)
	}
}

func TestCollector_CreditsFromAllocations(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	c.OnTickAllocated(ctx, []alloc.Allocation{
		{Tier: tier.Enterprise, Granted: 5, Consumed: 3},
		{Tier: tier.Free, Granted: 1, Consumed: 0},
	})
	c.OnTickAllocated(ctx, []alloc.Allocation{
		{Tier: tier.Enterprise, Granted: 5, Consumed: 5},
	})

	if got := testutil.ToFloat64(c.CreditsGrantedCounter(tier.Enterprise)); got != 10 {
		t.Fatalf("enterprise credits granted = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.CreditsConsumedCounter(tier.Enterprise)); got != 8 {
		t.Fatalf("enterprise credits consumed = %v, want 8", got)
	}
	if got := testutil.ToFloat64(c.CreditsGrantedCounter(tier.Free)); got != 1 {
		t.Fatalf("free credits granted = %v, want 1", got)
	}
}

func TestCollector_ThrottleGauge(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	c.OnTenantThrottled(ctx, "a", tier.Free, 50, 10)
	c.OnTenantThrottled(ctx, "b", tier.Free, 40, 10)
	if got := testutil.ToFloat64(c.ThrottledGauge()); got != 2 {
		t.Fatalf("throttled = %v, want 2", got)
	}

	c.OnTenantUnthrottled(ctx, "a", tier.Free)
	if got := testutil.ToFloat64(c.ThrottledGauge()); got != 1 {
		t.Fatalf("throttled = %v, want 1", got)
	}

	c.SetThrottledTenants(7)
	if got := testutil.ToFloat64(c.ThrottledGauge()); got != 7 {
		t.Fatalf("throttled = %v, want 7", got)
	}
}

func TestCollector_QueueDepthGauge(t *testing.T) {
	c := newCollector(t)

	c.SetQueueDepths(map[tier.Tier]int{tier.Enterprise: 12, tier.Free: 3})

	if got := testutil.ToFloat64(c.QueueDepthGauge(tier.Enterprise)); got != 12 {
		t.Fatalf("enterprise depth = %v, want 12", got)
	}
	if got := testutil.ToFloat64(c.QueueDepthGauge(tier.Free)); got != 3 {
		t.Fatalf("free depth = %v, want 3", got)
	}
	// Unreported tiers reset to zero.
	if got := testutil.ToFloat64(c.QueueDepthGauge(tier.Starter)); got != 0 {
		t.Fatalf("starter depth = %v, want 0", got)
	}
}

func TestCollector_TimeoutsAndCancellations(t *testing.T) {
	c := newCollector(t)
	ctx := context.Background()

	c.OnRequestTimedOut(ctx, testRequest(tier.Starter))
	c.OnRequestCancelled(ctx, testRequest(tier.Starter))
	c.OnRequestCancelled(ctx, testRequest(tier.Starter))

	if got := testutil.ToFloat64(c.TimeoutCounter(tier.Starter)); got != 1 {
		t.Fatalf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.CancellationCounter(tier.Starter)); got != 2 {
		t.Fatalf("cancellations = %v, want 2", got)
	}
}
