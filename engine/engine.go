package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/flow"
	"github.com/jabbala/tenantfair/governor"
	"github.com/jabbala/tenantfair/hook"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/limiter"
	"github.com/jabbala/tenantfair/metrics"
	"github.com/jabbala/tenantfair/middleware"
	"github.com/jabbala/tenantfair/replica"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/store"
	"github.com/jabbala/tenantfair/tier"
	"github.com/jabbala/tenantfair/worker"
)

// sweepBatch bounds how many expired requests one tick moves to the
// DLQ. The remainder is picked up by the next tick.
const sweepBatch = 256

// dlqReasonTimeout is the recorded reason for requests that expired in
// the queue.
const dlqReasonTimeout = "queue_timeout"

// Engine wires the admission limiter, global queue, fair-share
// allocator, worker pool, governor, and DLQ into one runnable
// scheduler replica.
type Engine struct {
	cfg    tenantfair.Config
	store  store.Store
	logger *slog.Logger

	pipeline worker.Pipeline
	hooks    *hook.Registry
	limiter  *limiter.Limiter
	governor *governor.Governor
	dlqs     *dlq.Service
	pool     *worker.Pool
	guard    *flow.Guard

	collector       *metrics.Collector
	listeners       []hook.Listener
	mws             []middleware.Middleware
	tracerProvider  trace.TracerProvider
	dispatchTimeout time.Duration

	replicaID id.ReplicaID
	leaseTTL  time.Duration
	leader    atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]*PendingResult

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the scheduler configuration. Defaults to
// tenantfair.DefaultConfig().
func WithConfig(cfg tenantfair.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithStore sets the shared persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithPipeline sets the downstream pipeline dispatched requests are
// handed to. Required.
func WithPipeline(p worker.Pipeline) Option {
	return func(e *Engine) { e.pipeline = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithListener registers a lifecycle listener.
func WithListener(l hook.Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithMetrics registers the Prometheus collector as a listener and
// lets the engine drive its queue depth and throttle gauges.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithMiddleware appends middleware to the dispatch chain, after the
// default recover/tracing/logging stack.
func WithMiddleware(m middleware.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithGuard sets the local in-flight guard applied before dispatch.
func WithGuard(g *flow.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithTracerProvider sets a custom OTel TracerProvider. When unset the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithDispatchTimeout bounds a single pipeline invocation. Zero
// disables the bound.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.dispatchTimeout = d }
}

// WithLeaseTTL sets the leadership lease duration. Renewal runs at a
// third of the TTL.
func WithLeaseTTL(d time.Duration) Option {
	return func(e *Engine) { e.leaseTTL = d }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine from the given options. It starts no goroutines;
// call Start to begin scheduling.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      tenantfair.DefaultConfig(),
		logger:   slog.Default(),
		leaseTTL: 15 * time.Second,
		pending:  make(map[string]*PendingResult),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, tenantfair.ErrNoStore
	}
	if e.pipeline == nil {
		return nil, fmt.Errorf("tenantfair: no pipeline configured")
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	e.hooks = hook.NewRegistry(e.logger)
	if e.collector != nil {
		e.hooks.Register(e.collector)
	}
	for _, l := range e.listeners {
		e.hooks.Register(l)
	}

	e.limiter = limiter.New(e.store, e.cfg.Tiers)
	e.dlqs = dlq.NewService(e.store, e.store)

	e.governor = governor.New(e.store, e.limiter, governor.Config{
		Window:   e.cfg.GovernorWindow,
		Sustain:  e.cfg.GovernorSustain,
		Cooldown: e.cfg.GovernorCooldown,
		Penalty:  e.cfg.GovernorPenalty,
		Tiers:    e.cfg.Tiers,
	},
		governor.WithLogger(e.logger),
		governor.WithTransitionHook(e.onGovernorTransition),
	)

	// Default middleware stack: recover → tracing → logging → timeout,
	// then caller-supplied middleware innermost.
	var tracingMw middleware.Middleware
	if e.tracerProvider != nil {
		tracingMw = middleware.TracingWithTracer(e.tracerProvider.Tracer("github.com/jabbala/tenantfair"))
	} else {
		tracingMw = middleware.Tracing()
	}
	mws := []middleware.Middleware{
		middleware.Recover(e.logger),
		tracingMw,
		middleware.Logging(e.logger),
	}
	if e.dispatchTimeout > 0 {
		mws = append(mws, middleware.Timeout(e.dispatchTimeout))
	}
	mws = append(mws, e.mws...)

	dispatcher := worker.NewDispatcher(e.pipeline, e.hooks, e.store, e.logger, mws,
		worker.WithUsageRecorder(e.store),
		worker.WithResultHandler(e.onDispatchResult),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolSize(e.cfg.PoolSize),
		worker.WithTiers(e.cfg.Tiers),
	}
	if e.guard != nil {
		poolOpts = append(poolOpts, worker.WithGuard(e.guard))
	}
	e.pool = worker.NewPool(e.store, dispatcher, e.hooks, e.logger, poolOpts...)
	e.replicaID = e.pool.ReplicaID()

	return e, nil
}

// Start registers the replica, launches the worker pool, and begins
// the tick, governor, and lease loops. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	e.registerReplica(ctx)

	// A fresh deployment should not wait a full lease interval for its
	// singleton loops to begin.
	if ok, err := e.store.AcquireLeadership(ctx, e.replicaID, e.leaseTTL); err == nil && ok {
		e.leader.Store(true)
	}

	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("tenantfair: start pool: %w", err)
	}

	e.wg.Add(3)
	go e.tickLoop()
	go e.governorLoop()
	go e.leaseLoop()

	e.logger.Info("engine started",
		slog.String("replica_id", e.replicaID.String()),
		slog.Int("pool_size", e.cfg.PoolSize),
		slog.Bool("leader", e.leader.Load()),
	)
	return nil
}

// Stop drains the engine: the loops stop, the pool finishes in-flight
// dispatches within ShutdownTimeout, and any still-unresolved local
// futures resolve with ErrCancelled. Queued requests stay in the
// shared store for other replicas.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	if _, ok := ctx.Deadline(); !ok && e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := e.pool.Stop(ctx); err != nil {
		e.logger.Error("pool stop error", slog.String("error", err.Error()))
	}

	e.hooks.EmitShutdown(context.WithoutCancel(ctx))

	if err := e.store.DeregisterReplica(context.WithoutCancel(ctx), e.replicaID); err != nil {
		e.logger.Warn("failed to deregister replica",
			slog.String("replica_id", e.replicaID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.leader.Store(false)

	e.failPending(tenantfair.ErrCancelled)

	e.logger.Info("engine stopped", slog.String("replica_id", e.replicaID.String()))
	return nil
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

// SubmitOpts describes one request submission.
type SubmitOpts struct {
	TenantID string
	Tier     tier.Tier
	Payload  []byte

	// MaxWait overrides the configured queue deadline when positive.
	MaxWait time.Duration
}

// Submit admits, enqueues, and returns a future for one request.
// Rejections surface immediately: *tenantfair.RateLimitedError when the
// tenant's bucket is empty, ErrCapacityExhausted when the queue is
// full. Cancelling ctx after Submit returns marks the request
// cancelled; it resolves through the future, not through ctx.
func (e *Engine) Submit(ctx context.Context, opts SubmitOpts) (*PendingResult, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("tenantfair: tenant id is required")
	}
	if !opts.Tier.Valid() {
		return nil, fmt.Errorf("tenantfair: invalid tier %d", opts.Tier)
	}

	admit, err := e.limiter.Admit(ctx, opts.TenantID, opts.Tier)
	if err != nil {
		return nil, fmt.Errorf("tenantfair: admit: %w", err)
	}
	if !admit.Allowed {
		e.hooks.EmitRequestRejected(ctx, opts.TenantID, opts.Tier, string(tenantfair.ReasonRateLimited))
		return nil, &tenantfair.RateLimitedError{
			TenantID:   opts.TenantID,
			RetryAfter: admit.RetryAfter,
		}
	}

	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = e.cfg.QueueDeadline
	}
	req := request.New(opts.TenantID, opts.Tier, opts.Payload, e.now().UTC(), maxWait)

	if err := e.store.EnqueueRequest(ctx, req); err != nil {
		if errors.Is(err, tenantfair.ErrCapacityExhausted) {
			// The admitted token was never used; give it back so a full
			// queue does not also burn the tenant's admission budget.
			if refundErr := e.limiter.Refund(ctx, opts.TenantID); refundErr != nil {
				e.logger.Warn("failed to refund admission token",
					slog.String("tenant_id", opts.TenantID),
					slog.String("error", refundErr.Error()),
				)
			}
			e.hooks.EmitRequestRejected(ctx, opts.TenantID, opts.Tier, string(tenantfair.ReasonCapacityExhausted))
		}
		return nil, err
	}

	e.hooks.EmitRequestAdmitted(ctx, req)
	e.hooks.EmitRequestEnqueued(ctx, req)

	pr := newPendingResult(req)
	e.pendingMu.Lock()
	e.pending[req.ID.String()] = pr
	e.pendingMu.Unlock()

	go e.watchCaller(ctx, pr)

	e.pool.Wake()
	return pr, nil
}

// Cancel marks a queued request cancelled. The request resolves with
// ErrCancelled when a worker observes the flag; requests already
// dispatched return ErrInvalidState.
func (e *Engine) Cancel(ctx context.Context, requestID id.RequestID) error {
	return e.store.CancelRequest(ctx, requestID)
}

// watchCaller mirrors the submitting context onto the queued request:
// if the caller goes away before the request resolves, the logical
// cancellation flag is set so no worker slot is spent on it.
func (e *Engine) watchCaller(ctx context.Context, pr *PendingResult) {
	select {
	case <-ctx.Done():
		err := e.store.CancelRequest(context.WithoutCancel(ctx), pr.req.ID)
		if err != nil && !errors.Is(err, tenantfair.ErrInvalidState) && !errors.Is(err, tenantfair.ErrRequestNotFound) {
			e.logger.Warn("failed to cancel abandoned request",
				slog.String("request_id", pr.req.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	case <-pr.Done():
	}
}

// onDispatchResult delivers the dispatcher's terminal outcome to the
// waiting future.
func (e *Engine) onDispatchResult(req *request.ScheduledRequest, result []byte, err error) {
	e.resolvePending(req.ID, result, err)
}

func (e *Engine) resolvePending(requestID id.RequestID, result []byte, err error) {
	key := requestID.String()
	e.pendingMu.Lock()
	pr := e.pending[key]
	delete(e.pending, key)
	e.pendingMu.Unlock()
	if pr != nil {
		pr.resolve(result, err)
	}
}

// failPending resolves every remaining local future with err.
func (e *Engine) failPending(err error) {
	e.pendingMu.Lock()
	remaining := make([]*PendingResult, 0, len(e.pending))
	for _, pr := range e.pending {
		remaining = append(remaining, pr)
	}
	e.pending = make(map[string]*PendingResult)
	e.pendingMu.Unlock()

	for _, pr := range remaining {
		pr.resolve(nil, err)
	}
}

// ──────────────────────────────────────────────────
// Scheduling loops
// ──────────────────────────────────────────────────

func (e *Engine) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(context.Background())
		}
	}
}

// tick runs one scheduling round: the leader sweeps expired requests
// to the DLQ, local futures past their deadline are settled, and a
// fresh credit ledger is computed from observed queue depths.
func (e *Engine) tick(ctx context.Context) {
	now := e.now().UTC()

	if e.leader.Load() {
		e.sweepExpired(ctx, now)
	}
	e.settleOverduePending(ctx, now)

	depths, err := e.store.QueueDepths(ctx)
	if err != nil {
		e.logger.Error("queue depth read failed", slog.String("error", err.Error()))
		return
	}

	// The outgoing ledger carries the tick's final consumption counts.
	if prev := e.pool.Ledger(); prev != nil {
		e.hooks.EmitTickAllocated(ctx, prev.Snapshot())
	}

	// Grants are sized to the slots actually free right now, bounded by
	// the claim buffer; credits beyond what this tick can dispatch
	// would drain highest-tier-first.
	capacity := e.cfg.PoolSize - e.pool.ActiveCount()
	if capacity < 0 {
		capacity = 0
	}
	if capacity > e.cfg.LocalClaimBuffer {
		capacity = e.cfg.LocalClaimBuffer
	}

	grants := alloc.Compute(depths, capacity, alloc.Policy{
		Tiers:  e.cfg.Tiers,
		Capped: e.cfg.RedistributionCapped,
	})
	e.pool.SetLedger(alloc.NewLedger(now, grants))

	if e.collector != nil {
		e.collector.SetQueueDepths(depths)
		e.collector.SetThrottledTenants(e.governor.ThrottledCount())
	}
}

// sweepExpired moves requests queued past their deadline to the DLQ.
// Leader-only: the DLQ must record each expiry once across the fleet.
func (e *Engine) sweepExpired(ctx context.Context, now time.Time) {
	expired, err := e.store.RemoveExpired(ctx, now, sweepBatch)
	if err != nil {
		e.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, req := range expired {
		if pushErr := e.dlqs.Push(ctx, req, dlqReasonTimeout); pushErr != nil {
			e.logger.Error("failed to record expired request in dlq",
				slog.String("request_id", req.ID.String()),
				slog.String("tenant_id", req.TenantID),
				slog.String("error", pushErr.Error()),
			)
		}
		e.hooks.EmitRequestTimedOut(ctx, req)
		e.resolvePending(req.ID, nil, tenantfair.ErrQueueTimeout)
	}
}

// settleOverduePending resolves local futures whose request reached a
// terminal state elsewhere — swept by another replica's leader, or
// cancelled — so callers on this replica never wait past the outcome.
func (e *Engine) settleOverduePending(ctx context.Context, now time.Time) {
	e.pendingMu.Lock()
	var overdue []*PendingResult
	for _, pr := range e.pending {
		if now.After(pr.req.Deadline) {
			overdue = append(overdue, pr)
		}
	}
	e.pendingMu.Unlock()

	for _, pr := range overdue {
		cur, err := e.store.GetRequest(ctx, pr.req.ID)
		if err != nil {
			if errors.Is(err, tenantfair.ErrRequestNotFound) {
				e.resolvePending(pr.req.ID, nil, tenantfair.ErrQueueTimeout)
			}
			continue
		}
		switch cur.Status {
		case request.StatusTimedOut:
			e.resolvePending(pr.req.ID, nil, tenantfair.ErrQueueTimeout)
		case request.StatusCancelled:
			e.resolvePending(pr.req.ID, nil, tenantfair.ErrCancelled)
		default:
			// Still queued awaiting the leader's sweep, or dispatched
			// with the result handler about to resolve it.
		}
	}
}

func (e *Engine) governorLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.GovernorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.leader.Load() {
				continue
			}
			if err := e.governor.Scan(context.Background()); err != nil {
				e.logger.Error("governor scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) onGovernorTransition(tr governor.Transition) {
	ctx := context.Background()
	if tr.To == governor.StateThrottled {
		e.hooks.EmitTenantThrottled(ctx, tr.TenantID, tr.Tier, tr.Consumption, tr.Cap)
		return
	}
	e.hooks.EmitTenantUnthrottled(ctx, tr.TenantID, tr.Tier)
}

// leaseLoop heartbeats the replica record and maintains the leadership
// lease. Losing the lease demotes immediately; the singleton loops
// check leadership on every round.
func (e *Engine) leaseLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()

			if err := e.store.HeartbeatReplica(ctx, e.replicaID); err != nil {
				if errors.Is(err, tenantfair.ErrReplicaNotFound) {
					// Reaped after a heartbeat gap; re-register.
					e.registerReplica(ctx)
				} else {
					e.logger.Warn("replica heartbeat failed", slog.String("error", err.Error()))
				}
			}

			if e.leader.Load() {
				ok, err := e.store.RenewLeadership(ctx, e.replicaID, e.leaseTTL)
				if err != nil || !ok {
					e.leader.Store(false)
					e.logger.Warn("leadership lost", slog.String("replica_id", e.replicaID.String()))
					continue
				}
				e.reapDeadReplicas(ctx)
				continue
			}

			ok, err := e.store.AcquireLeadership(ctx, e.replicaID, e.leaseTTL)
			if err == nil && ok {
				e.leader.Store(true)
				e.logger.Info("leadership acquired", slog.String("replica_id", e.replicaID.String()))
			}
		}
	}
}

// reapDeadReplicas deregisters replicas that stopped heartbeating.
// Leader-only: one replica prunes the fleet roster. The threshold is
// several heartbeat intervals so a single missed beat never evicts a
// live replica.
func (e *Engine) reapDeadReplicas(ctx context.Context) {
	dead, err := e.store.ReapDeadReplicas(ctx, 3*e.leaseTTL)
	if err != nil {
		e.logger.Warn("dead replica scan failed", slog.String("error", err.Error()))
		return
	}
	for _, r := range dead {
		if r.ID == e.replicaID {
			continue
		}
		if deregErr := e.store.DeregisterReplica(ctx, r.ID); deregErr != nil {
			if errors.Is(deregErr, tenantfair.ErrReplicaNotFound) {
				continue
			}
			e.logger.Warn("failed to deregister dead replica",
				slog.String("replica_id", r.ID.String()),
				slog.String("error", deregErr.Error()),
			)
			continue
		}
		e.logger.Info("reaped dead replica",
			slog.String("replica_id", r.ID.String()),
			slog.Time("last_seen", r.LastSeen),
		)
	}
}

func (e *Engine) registerReplica(ctx context.Context) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := e.now().UTC()
	r := &replica.Replica{
		ID:        e.replicaID,
		Hostname:  hostname,
		PoolSize:  e.cfg.PoolSize,
		State:     replica.Active,
		LastSeen:  now,
		CreatedAt: now,
	}
	if regErr := e.store.RegisterReplica(ctx, r); regErr != nil {
		e.logger.Warn("failed to register replica",
			slog.String("replica_id", e.replicaID.String()),
			slog.String("error", regErr.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────

// Stats is a point-in-time snapshot of the scheduler.
type Stats struct {
	ReplicaID        id.ReplicaID       `json:"replica_id"`
	IsLeader         bool               `json:"is_leader"`
	QueueDepths      map[tier.Tier]int  `json:"queue_depths"`
	QueueLen         int                `json:"queue_len"`
	ActiveDispatches int                `json:"active_dispatches"`
	PendingResults   int                `json:"pending_results"`
	ThrottledTenants int                `json:"throttled_tenants"`
	Allocations      []alloc.Allocation `json:"allocations,omitempty"`
}

// Stats reports queue depths, in-flight work, and the current tick's
// credit ledger.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	depths, err := e.store.QueueDepths(ctx)
	if err != nil {
		return Stats{}, err
	}
	total := 0
	for _, d := range depths {
		total += d
	}

	e.pendingMu.Lock()
	pendingCount := len(e.pending)
	e.pendingMu.Unlock()

	s := Stats{
		ReplicaID:        e.replicaID,
		IsLeader:         e.leader.Load(),
		QueueDepths:      depths,
		QueueLen:         total,
		ActiveDispatches: e.pool.ActiveCount(),
		PendingResults:   pendingCount,
		ThrottledTenants: e.governor.ThrottledCount(),
	}
	if ledger := e.pool.Ledger(); ledger != nil {
		s.Allocations = ledger.Snapshot()
	}
	return s, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() tenantfair.Config { return e.cfg }

// Store returns the shared persistence backend.
func (e *Engine) Store() store.Store { return e.store }

// Hooks returns the lifecycle listener registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// DLQService returns the DLQ service for inspection and replay.
func (e *Engine) DLQService() *dlq.Service { return e.dlqs }

// Governor returns the noisy-neighbor governor.
func (e *Engine) Governor() *governor.Governor { return e.governor }

// ReplicaID returns this replica's identity.
func (e *Engine) ReplicaID() id.ReplicaID { return e.replicaID }

// IsLeader reports whether this replica currently holds the lease.
func (e *Engine) IsLeader() bool { return e.leader.Load() }
