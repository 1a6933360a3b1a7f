package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// Named entry types pair a hook implementation with the listener name
// captured at registration time. This avoids type-asserting back to
// Listener inside the emit methods.
type requestAdmittedEntry struct {
	name string
	hook RequestAdmitted
}

type requestRejectedEntry struct {
	name string
	hook RequestRejected
}

type requestEnqueuedEntry struct {
	name string
	hook RequestEnqueued
}

type requestDispatchedEntry struct {
	name string
	hook RequestDispatched
}

type requestCompletedEntry struct {
	name string
	hook RequestCompleted
}

type requestTimedOutEntry struct {
	name string
	hook RequestTimedOut
}

type requestCancelledEntry struct {
	name string
	hook RequestCancelled
}

type tickAllocatedEntry struct {
	name string
	hook TickAllocated
}

type tenantThrottledEntry struct {
	name string
	hook TenantThrottled
}

type tenantUnthrottledEntry struct {
	name string
	hook TenantUnthrottled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered listeners and dispatches lifecycle events
// to them. It type-caches listeners at registration time so emit calls
// iterate only over listeners that implement the relevant hook.
type Registry struct {
	listeners []Listener
	logger    *slog.Logger

	// Type-cached slices for each lifecycle hook.
	requestAdmitted   []requestAdmittedEntry
	requestRejected   []requestRejectedEntry
	requestEnqueued   []requestEnqueuedEntry
	requestDispatched []requestDispatchedEntry
	requestCompleted  []requestCompletedEntry
	requestTimedOut   []requestTimedOutEntry
	requestCancelled  []requestCancelledEntry
	tickAllocated     []tickAllocatedEntry
	tenantThrottled   []tenantThrottledEntry
	tenantUnthrottled []tenantUnthrottledEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates a listener registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a listener and type-asserts it into all applicable
// hook caches. Listeners are notified in registration order.
func (r *Registry) Register(l Listener) {
	r.listeners = append(r.listeners, l)
	name := l.Name()

	if h, ok := l.(RequestAdmitted); ok {
		r.requestAdmitted = append(r.requestAdmitted, requestAdmittedEntry{name, h})
	}
	if h, ok := l.(RequestRejected); ok {
		r.requestRejected = append(r.requestRejected, requestRejectedEntry{name, h})
	}
	if h, ok := l.(RequestEnqueued); ok {
		r.requestEnqueued = append(r.requestEnqueued, requestEnqueuedEntry{name, h})
	}
	if h, ok := l.(RequestDispatched); ok {
		r.requestDispatched = append(r.requestDispatched, requestDispatchedEntry{name, h})
	}
	if h, ok := l.(RequestCompleted); ok {
		r.requestCompleted = append(r.requestCompleted, requestCompletedEntry{name, h})
	}
	if h, ok := l.(RequestTimedOut); ok {
		r.requestTimedOut = append(r.requestTimedOut, requestTimedOutEntry{name, h})
	}
	if h, ok := l.(RequestCancelled); ok {
		r.requestCancelled = append(r.requestCancelled, requestCancelledEntry{name, h})
	}
	if h, ok := l.(TickAllocated); ok {
		r.tickAllocated = append(r.tickAllocated, tickAllocatedEntry{name, h})
	}
	if h, ok := l.(TenantThrottled); ok {
		r.tenantThrottled = append(r.tenantThrottled, tenantThrottledEntry{name, h})
	}
	if h, ok := l.(TenantUnthrottled); ok {
		r.tenantUnthrottled = append(r.tenantUnthrottled, tenantUnthrottledEntry{name, h})
	}
	if h, ok := l.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Listeners returns all registered listeners.
func (r *Registry) Listeners() []Listener { return r.listeners }

// ──────────────────────────────────────────────────
// Request event emitters
// ──────────────────────────────────────────────────

// EmitRequestAdmitted notifies all listeners that implement RequestAdmitted.
func (r *Registry) EmitRequestAdmitted(ctx context.Context, req *request.ScheduledRequest) {
	for _, e := range r.requestAdmitted {
		if err := e.hook.OnRequestAdmitted(ctx, req); err != nil {
			r.logHookError("OnRequestAdmitted", e.name, err)
		}
	}
}

// EmitRequestRejected notifies all listeners that implement RequestRejected.
func (r *Registry) EmitRequestRejected(ctx context.Context, tenantID string, t tier.Tier, reason string) {
	for _, e := range r.requestRejected {
		if err := e.hook.OnRequestRejected(ctx, tenantID, t, reason); err != nil {
			r.logHookError("OnRequestRejected", e.name, err)
		}
	}
}

// EmitRequestEnqueued notifies all listeners that implement RequestEnqueued.
func (r *Registry) EmitRequestEnqueued(ctx context.Context, req *request.ScheduledRequest) {
	for _, e := range r.requestEnqueued {
		if err := e.hook.OnRequestEnqueued(ctx, req); err != nil {
			r.logHookError("OnRequestEnqueued", e.name, err)
		}
	}
}

// EmitRequestDispatched notifies all listeners that implement RequestDispatched.
func (r *Registry) EmitRequestDispatched(ctx context.Context, req *request.ScheduledRequest, wait time.Duration) {
	for _, e := range r.requestDispatched {
		if err := e.hook.OnRequestDispatched(ctx, req, wait); err != nil {
			r.logHookError("OnRequestDispatched", e.name, err)
		}
	}
}

// EmitRequestCompleted notifies all listeners that implement RequestCompleted.
func (r *Registry) EmitRequestCompleted(ctx context.Context, req *request.ScheduledRequest, elapsed time.Duration, pipelineErr error) {
	for _, e := range r.requestCompleted {
		if err := e.hook.OnRequestCompleted(ctx, req, elapsed, pipelineErr); err != nil {
			r.logHookError("OnRequestCompleted", e.name, err)
		}
	}
}

// EmitRequestTimedOut notifies all listeners that implement RequestTimedOut.
func (r *Registry) EmitRequestTimedOut(ctx context.Context, req *request.ScheduledRequest) {
	for _, e := range r.requestTimedOut {
		if err := e.hook.OnRequestTimedOut(ctx, req); err != nil {
			r.logHookError("OnRequestTimedOut", e.name, err)
		}
	}
}

// EmitRequestCancelled notifies all listeners that implement RequestCancelled.
func (r *Registry) EmitRequestCancelled(ctx context.Context, req *request.ScheduledRequest) {
	for _, e := range r.requestCancelled {
		if err := e.hook.OnRequestCancelled(ctx, req); err != nil {
			r.logHookError("OnRequestCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Scheduling event emitters
// ──────────────────────────────────────────────────

// EmitTickAllocated notifies all listeners that implement TickAllocated.
func (r *Registry) EmitTickAllocated(ctx context.Context, allocations []alloc.Allocation) {
	for _, e := range r.tickAllocated {
		if err := e.hook.OnTickAllocated(ctx, allocations); err != nil {
			r.logHookError("OnTickAllocated", e.name, err)
		}
	}
}

// EmitTenantThrottled notifies all listeners that implement TenantThrottled.
func (r *Registry) EmitTenantThrottled(ctx context.Context, tenantID string, t tier.Tier, consumption, cap int) {
	for _, e := range r.tenantThrottled {
		if err := e.hook.OnTenantThrottled(ctx, tenantID, t, consumption, cap); err != nil {
			r.logHookError("OnTenantThrottled", e.name, err)
		}
	}
}

// EmitTenantUnthrottled notifies all listeners that implement TenantUnthrottled.
func (r *Registry) EmitTenantUnthrottled(ctx context.Context, tenantID string, t tier.Tier) {
	for _, e := range r.tenantUnthrottled {
		if err := e.hook.OnTenantUnthrottled(ctx, tenantID, t); err != nil {
			r.logHookError("OnTenantUnthrottled", e.name, err)
		}
	}
}

// EmitShutdown notifies all listeners that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the
// scheduling path.
func (r *Registry) logHookError(hook, listenerName string, err error) {
	r.logger.Warn("listener hook error",
		slog.String("hook", hook),
		slog.String("listener", listenerName),
		slog.String("error", err.Error()),
	)
}
