// Package hook defines the listener system for the scheduler.
// Listeners are notified of lifecycle events (request admitted,
// dispatched, timed out, tenant throttled, etc.) and can react to
// them — logging, metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so listeners opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// Listener is the base interface all listeners must implement.
type Listener interface {
	// Name returns a unique human-readable name for the listener.
	Name() string
}

// ──────────────────────────────────────────────────
// Request lifecycle hooks
// ──────────────────────────────────────────────────

// RequestAdmitted is called after a request passes token bucket
// admission, before it is enqueued.
type RequestAdmitted interface {
	OnRequestAdmitted(ctx context.Context, req *request.ScheduledRequest) error
}

// RequestRejected is called when admission or enqueue refuses a
// request. The reason is one of the RejectReason values.
type RequestRejected interface {
	OnRequestRejected(ctx context.Context, tenantID string, t tier.Tier, reason string) error
}

// RequestEnqueued is called after a request lands in the global queue.
type RequestEnqueued interface {
	OnRequestEnqueued(ctx context.Context, req *request.ScheduledRequest) error
}

// RequestDispatched is called when a worker slot claims a request.
// wait is the time the request spent queued.
type RequestDispatched interface {
	OnRequestDispatched(ctx context.Context, req *request.ScheduledRequest, wait time.Duration) error
}

// RequestCompleted is called after the downstream pipeline finishes a
// request. pipelineErr carries the pipeline's error, nil on success.
type RequestCompleted interface {
	OnRequestCompleted(ctx context.Context, req *request.ScheduledRequest, elapsed time.Duration, pipelineErr error) error
}

// RequestTimedOut is called when the sweep moves an expired request to
// the dead letter queue.
type RequestTimedOut interface {
	OnRequestTimedOut(ctx context.Context, req *request.ScheduledRequest) error
}

// RequestCancelled is called when a caller withdraws a queued request.
type RequestCancelled interface {
	OnRequestCancelled(ctx context.Context, req *request.ScheduledRequest) error
}

// ──────────────────────────────────────────────────
// Scheduling hooks
// ──────────────────────────────────────────────────

// TickAllocated is called once per scheduling tick with the closing
// allocations of the previous tick.
type TickAllocated interface {
	OnTickAllocated(ctx context.Context, allocations []alloc.Allocation) error
}

// TenantThrottled is called when the governor penalizes a tenant.
type TenantThrottled interface {
	OnTenantThrottled(ctx context.Context, tenantID string, t tier.Tier, consumption, cap int) error
}

// TenantUnthrottled is called when the governor restores a tenant.
type TenantUnthrottled interface {
	OnTenantUnthrottled(ctx context.Context, tenantID string, t tier.Tier) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
