// Package worker provides the dispatch engine — a Dispatcher that
// invokes the downstream pipeline through middleware, and a Pool of
// fixed worker slots that drain the global queue under the allocator's
// per-tick credits.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/hook"
	"github.com/jabbala/tenantfair/middleware"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// Pipeline is the downstream system a dispatched request is handed to,
// typically a model-serving backend. Invoke blocks until the pipeline
// produces a result or the context is cancelled.
type Pipeline interface {
	Invoke(ctx context.Context, req *request.ScheduledRequest) ([]byte, error)
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, req *request.ScheduledRequest) ([]byte, error)

// Invoke implements Pipeline.
func (f PipelineFunc) Invoke(ctx context.Context, req *request.ScheduledRequest) ([]byte, error) {
	return f(ctx, req)
}

// UsageRecorder counts dispatches for the governor's sliding window.
// The governor's consumption store satisfies this.
type UsageRecorder interface {
	RecordDispatch(ctx context.Context, tenantID string, t tier.Tier, at time.Time) error
}

// ResultHandler receives the terminal outcome of a dispatched request.
// The engine uses it to complete the caller's pending future. err
// carries the pipeline error verbatim; the scheduler never retries.
type ResultHandler func(req *request.ScheduledRequest, result []byte, err error)

// Dispatcher runs a single claimed request through middleware and the
// pipeline, then persists the terminal state and emits lifecycle
// events.
type Dispatcher struct {
	pipeline Pipeline
	hooks    *hook.Registry
	store    request.Store
	usage    UsageRecorder
	mw       middleware.Middleware
	logger   *slog.Logger
	onResult ResultHandler
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithUsageRecorder wires the governor's consumption store so every
// dispatch lands in the sliding window.
func WithUsageRecorder(u UsageRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.usage = u }
}

// WithResultHandler registers the callback that delivers terminal
// outcomes to waiting callers.
func WithResultHandler(h ResultHandler) DispatcherOption {
	return func(d *Dispatcher) { d.onResult = h }
}

// NewDispatcher creates a Dispatcher with the given middleware chain.
func NewDispatcher(
	pipeline Pipeline,
	hooks *hook.Registry,
	store request.Store,
	logger *slog.Logger,
	mws []middleware.Middleware,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		pipeline: pipeline,
		hooks:    hooks,
		store:    store,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs a claimed request through the middleware chain and the
// pipeline. The request always reaches Completed — pipeline errors are
// recorded and surfaced to the caller as-is, never retried by the
// scheduler.
func (d *Dispatcher) Dispatch(ctx context.Context, req *request.ScheduledRequest) error {
	start := time.Now()

	if d.usage != nil {
		if recErr := d.usage.RecordDispatch(ctx, req.TenantID, req.Tier, start.UTC()); recErr != nil {
			d.logger.Warn("failed to record dispatch consumption",
				slog.String("request_id", req.ID.String()),
				slog.String("tenant_id", req.TenantID),
				slog.String("error", recErr.Error()),
			)
		}
	}

	var result []byte
	terminal := func(ctx context.Context) error {
		out, err := d.pipeline.Invoke(ctx, req)
		result = out
		return err
	}

	err := d.mw(ctx, req, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	req.Status = request.StatusCompleted
	req.CompletedAt = &now
	if err != nil {
		req.LastError = err.Error()
	}

	if updateErr := d.store.UpdateRequest(ctx, req); updateErr != nil {
		d.logger.Error("failed to persist completed request",
			slog.String("request_id", req.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	d.hooks.EmitRequestCompleted(ctx, req, elapsed, err)
	if d.onResult != nil {
		d.onResult(req, result, err)
	}
	return err
}

// Cancel resolves a request the caller withdrew before dispatch. No
// dequeue credit is consumed for cancelled requests.
func (d *Dispatcher) Cancel(ctx context.Context, req *request.ScheduledRequest) {
	now := time.Now().UTC()
	req.Status = request.StatusCancelled
	req.CompletedAt = &now

	if updateErr := d.store.UpdateRequest(ctx, req); updateErr != nil {
		d.logger.Error("failed to persist cancelled request",
			slog.String("request_id", req.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	d.hooks.EmitRequestCancelled(ctx, req)
	if d.onResult != nil {
		d.onResult(req, nil, tenantfair.ErrCancelled)
	}
}
