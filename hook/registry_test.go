package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/hook"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// ──────────────────────────────────────────────────
// Test listeners
// ──────────────────────────────────────────────────

// allHooksListener implements every lifecycle hook for testing.
type allHooksListener struct {
	calls []string
}

func (l *allHooksListener) Name() string { return "all-hooks" }

func (l *allHooksListener) OnRequestAdmitted(_ context.Context, _ *request.ScheduledRequest) error {
	l.calls = append(l.calls, "OnRequestAdmitted")
	return nil
}

func (l *allHooksListener) OnRequestRejected(_ context.Context, _ string, _ tier.Tier, _ string) error {
	l.calls = append(l.calls, "OnRequestRejected")
	return nil
}

func (l *allHooksListener) OnRequestEnqueued(_ context.Context, _ *request.ScheduledRequest) error {
	l.calls = append(l.calls, "OnRequestEnqueued")
	return nil
}

func (l *allHooksListener) OnRequestDispatched(_ context.Context, _ *request.ScheduledRequest, _ time.Duration) error {
	l.calls = append(l.calls, "OnRequestDispatched")
	return nil
}

func (l *allHooksListener) OnRequestCompleted(_ context.Context, _ *request.ScheduledRequest, _ time.Duration, _ error) error {
	l.calls = append(l.calls, "OnRequestCompleted")
	return nil
}

func (l *allHooksListener) OnRequestTimedOut(_ context.Context, _ *request.ScheduledRequest) error {
	l.calls = append(l.calls, "OnRequestTimedOut")
	return nil
}

func (l *allHooksListener) OnRequestCancelled(_ context.Context, _ *request.ScheduledRequest) error {
	l.calls = append(l.calls, "OnRequestCancelled")
	return nil
}

func (l *allHooksListener) OnTickAllocated(_ context.Context, _ []alloc.Allocation) error {
	l.calls = append(l.calls, "OnTickAllocated")
	return nil
}

func (l *allHooksListener) OnTenantThrottled(_ context.Context, _ string, _ tier.Tier, _, _ int) error {
	l.calls = append(l.calls, "OnTenantThrottled")
	return nil
}

func (l *allHooksListener) OnTenantUnthrottled(_ context.Context, _ string, _ tier.Tier) error {
	l.calls = append(l.calls, "OnTenantUnthrottled")
	return nil
}

func (l *allHooksListener) OnShutdown(_ context.Context) error {
	l.calls = append(l.calls, "OnShutdown")
	return nil
}

// dispatchOnlyListener only implements dispatch-related hooks.
type dispatchOnlyListener struct {
	calls []string
}

func (l *dispatchOnlyListener) Name() string { return "dispatch-only" }

func (l *dispatchOnlyListener) OnRequestDispatched(_ context.Context, _ *request.ScheduledRequest, _ time.Duration) error {
	l.calls = append(l.calls, "OnRequestDispatched")
	return nil
}

func (l *dispatchOnlyListener) OnRequestCompleted(_ context.Context, _ *request.ScheduledRequest, _ time.Duration, _ error) error {
	l.calls = append(l.calls, "OnRequestCompleted")
	return nil
}

// failingListener returns errors from hooks.
type failingListener struct{}

func (l *failingListener) Name() string { return "failing" }

func (l *failingListener) OnRequestDispatched(_ context.Context, _ *request.ScheduledRequest, _ time.Duration) error {
	return errors.New("boom")
}

func (l *failingListener) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func testRequest() *request.ScheduledRequest {
	return request.New("acme", tier.Professional, nil, time.Now().UTC(), 30*time.Second)
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksListener{}
	r.Register(all)

	if got := len(r.Listeners()); got != 1 {
		t.Fatalf("expected 1 listener, got %d", got)
	}
	if got := r.Listeners()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksListener{}
	do := &dispatchOnlyListener{}
	r.Register(all)
	r.Register(do)

	ctx := context.Background()
	req := testRequest()

	// Both implement OnRequestDispatched → both called.
	r.EmitRequestDispatched(ctx, req, time.Second)
	if len(all.calls) != 1 || all.calls[0] != "OnRequestDispatched" {
		t.Fatalf("all: expected [OnRequestDispatched], got %v", all.calls)
	}
	if len(do.calls) != 1 || do.calls[0] != "OnRequestDispatched" {
		t.Fatalf("do: expected [OnRequestDispatched], got %v", do.calls)
	}

	// Only all implements OnRequestEnqueued → do not called.
	r.EmitRequestEnqueued(ctx, req)
	if len(all.calls) != 2 || all.calls[1] != "OnRequestEnqueued" {
		t.Fatalf("all: expected OnRequestEnqueued as 2nd, got %v", all.calls)
	}
	if len(do.calls) != 1 {
		t.Fatalf("do: should still have 1 call, got %v", do.calls)
	}
}

func TestRegistry_AllRequestHooksFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksListener{}
	r.Register(all)

	ctx := context.Background()
	req := testRequest()

	r.EmitRequestAdmitted(ctx, req)
	r.EmitRequestRejected(ctx, "acme", tier.Free, "rate_limited")
	r.EmitRequestEnqueued(ctx, req)
	r.EmitRequestDispatched(ctx, req, time.Second)
	r.EmitRequestCompleted(ctx, req, 2*time.Second, nil)
	r.EmitRequestTimedOut(ctx, req)
	r.EmitRequestCancelled(ctx, req)

	expected := []string{
		"OnRequestAdmitted", "OnRequestRejected", "OnRequestEnqueued",
		"OnRequestDispatched", "OnRequestCompleted", "OnRequestTimedOut",
		"OnRequestCancelled",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_SchedulingAndShutdownHooksFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksListener{}
	r.Register(all)

	ctx := context.Background()
	r.EmitTickAllocated(ctx, []alloc.Allocation{{Tier: tier.Enterprise, Granted: 5}})
	r.EmitTenantThrottled(ctx, "noisy", tier.Free, 50, 10)
	r.EmitTenantUnthrottled(ctx, "noisy", tier.Free)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnTickAllocated", "OnTenantThrottled", "OnTenantUnthrottled", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	failing := &failingListener{}
	all := &allHooksListener{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()

	// No panic, no error propagation. allHooksListener should still fire.
	r.EmitRequestDispatched(ctx, testRequest(), time.Second)

	if len(all.calls) != 1 || all.calls[0] != "OnRequestDispatched" {
		t.Fatalf("all: expected [OnRequestDispatched] despite failing listener, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()
	req := testRequest()

	// None of these should panic or error.
	r.EmitRequestAdmitted(ctx, req)
	r.EmitRequestRejected(ctx, "acme", tier.Free, "rate_limited")
	r.EmitRequestEnqueued(ctx, req)
	r.EmitRequestDispatched(ctx, req, time.Second)
	r.EmitRequestCompleted(ctx, req, time.Second, errors.New("x"))
	r.EmitRequestTimedOut(ctx, req)
	r.EmitRequestCancelled(ctx, req)
	r.EmitTickAllocated(ctx, nil)
	r.EmitTenantThrottled(ctx, "t", tier.Free, 1, 1)
	r.EmitTenantUnthrottled(ctx, "t", tier.Free)
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleListenersOrderPreserved(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	l1 := &allHooksListener{}
	l2 := &allHooksListener{}
	r.Register(l1)
	r.Register(l2)

	ctx := context.Background()
	r.EmitRequestEnqueued(ctx, testRequest())

	if len(l1.calls) != 1 {
		t.Errorf("l1: expected 1 call, got %d", len(l1.calls))
	}
	if len(l2.calls) != 1 {
		t.Errorf("l2: expected 1 call, got %d", len(l2.calls))
	}
}
