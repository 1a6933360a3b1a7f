package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/flow"
	"github.com/jabbala/tenantfair/hook"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// Pool manages a fixed set of worker slots that claim requests from
// the global queue. Claims are bounded by the allocator's per-tick
// credit ledger: a slot may only dequeue from a tier with an
// unconsumed credit, and among credit-backed tiers it picks the one
// furthest below its fair share of dispatches served so far, so a slow
// pipeline cannot funnel every slot into the highest backlogged tier.
type Pool struct {
	store      request.Store
	dispatcher *Dispatcher
	hooks      *hook.Registry
	size       int
	replicaID  id.ReplicaID
	logger     *slog.Logger
	tiers      tier.Set

	// claimInterval is the idle backoff between claim attempts when the
	// queue is empty or every credit is spent.
	claimInterval time.Duration

	// guard bounds local in-flight work (optional).
	guard *flow.Guard

	ledgerMu sync.Mutex
	ledger   *alloc.Ledger

	// served counts dispatches per tier over the pool's lifetime. The
	// deficit walk in claimOne compares served/share ratios, so the
	// counts only matter relative to each other.
	servedMu sync.Mutex
	served   map[tier.Tier]uint64

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of worker slots.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) { p.size = n }
}

// WithClaimInterval sets the idle backoff between claim attempts.
func WithClaimInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.claimInterval = d }
}

// WithGuard sets the local in-flight guard.
func WithGuard(g *flow.Guard) PoolOption {
	return func(p *Pool) { p.guard = g }
}

// WithReplicaID sets the replica identity recorded on claimed requests.
func WithReplicaID(rid id.ReplicaID) PoolOption {
	return func(p *Pool) { p.replicaID = rid }
}

// WithTiers sets the tier configuration used to weigh the deficit walk.
func WithTiers(tiers tier.Set) PoolOption {
	return func(p *Pool) { p.tiers = tiers }
}

// NewPool creates a worker pool. The pool dispatches nothing until
// SetLedger provides the first tick's credits.
func NewPool(
	store request.Store,
	dispatcher *Dispatcher,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:         store,
		dispatcher:    dispatcher,
		hooks:         hooks,
		size:          10,
		replicaID:     id.NewReplicaID(),
		logger:        logger,
		claimInterval: 50 * time.Millisecond,
		tiers:         tier.DefaultSet(),
		served:        make(map[tier.Tier]uint64),
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		active:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReplicaID returns the pool's replica identifier.
func (p *Pool) ReplicaID() id.ReplicaID { return p.replicaID }

// SetLedger installs the credit ledger for the new tick and wakes idle
// slots. The previous ledger's unspent credits are discarded with it.
func (p *Pool) SetLedger(l *alloc.Ledger) {
	p.ledgerMu.Lock()
	p.ledger = l
	p.ledgerMu.Unlock()
	p.Wake()
}

// Ledger returns the current tick's ledger, nil before the first tick.
func (p *Pool) Ledger() *alloc.Ledger {
	p.ledgerMu.Lock()
	defer p.ledgerMu.Unlock()
	return p.ledger
}

// Wake nudges idle slots to re-check the queue, typically after an
// enqueue on this replica.
func (p *Pool) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the worker slots. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("replica_id", p.replicaID.String()),
		slog.Int("pool_size", p.size),
	)

	for range p.size {
		p.wg.Add(1)
		go p.claimLoop()
	}
	return nil
}

// Stop signals all slots to stop and waits for them to finish. If the
// context has a deadline, in-flight dispatches are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("replica_id", p.replicaID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling in-flight dispatches")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// claimLoop is run by each worker slot.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if !p.claimOne() {
			p.sleep()
		}
	}
}

// claimOne picks the neediest credit-backed tier and tries to dequeue
// from it, falling back to the next neediest when a tier comes up
// empty. It returns true if a request was dispatched.
func (p *Pool) claimOne() bool {
	ledger := p.Ledger()
	if ledger == nil {
		return false
	}

	skip := make(map[tier.Tier]bool, len(tier.All()))
	for {
		t, ok := p.neediestTier(ledger, skip)
		if !ok {
			return false
		}
		if !ledger.TryConsume(t) {
			skip[t] = true
			continue
		}

		reqs, err := p.store.DequeueForTier(context.Background(), t, 1)
		if err != nil {
			ledger.Refund(t)
			p.logger.Error("dequeue error",
				slog.String("tier", t.String()),
				slog.String("error", err.Error()),
			)
			return false
		}
		if len(reqs) == 0 {
			ledger.Refund(t)
			skip[t] = true
			continue
		}
		req := reqs[0]

		// Cancelled requests consume no credit: resolve and retry the
		// same tier.
		if req.Cancelled {
			ledger.Refund(t)
			p.dispatcher.Cancel(context.Background(), req)
			continue
		}

		if p.guard != nil && !p.guard.Acquire(req.Tier, req.TenantID) {
			ledger.Refund(t)
			p.requeue(req)
			skip[t] = true
			continue
		}

		p.markServed(t)
		p.dispatch(req)
		if p.guard != nil {
			p.guard.Release(req.Tier, req.TenantID)
		}
		return true
	}
}

// neediestTier returns the credit-backed tier whose served/share ratio
// is lowest, skipping tiers already ruled out this claim. Ties break
// by ordinal, so at equal deficit higher tiers still go first.
func (p *Pool) neediestTier(ledger *alloc.Ledger, skip map[tier.Tier]bool) (tier.Tier, bool) {
	p.servedMu.Lock()
	defer p.servedMu.Unlock()

	var (
		best  tier.Tier
		found bool
	)
	for _, t := range tier.All() {
		if skip[t] || !ledger.HasCredit(t) {
			continue
		}
		if !found {
			best, found = t, true
			continue
		}
		// served[t]/share[t] < served[best]/share[best], cross-multiplied
		// to stay in integers. A zero share weighs as 1 so the tier is
		// not infinitely needy.
		if p.served[t]*p.shareOf(best) < p.served[best]*p.shareOf(t) {
			best = t
		}
	}
	return best, found
}

func (p *Pool) shareOf(t tier.Tier) uint64 {
	share := p.tiers[t].FairSharePercent
	if share < 1 {
		share = 1
	}
	return uint64(share)
}

func (p *Pool) markServed(t tier.Tier) {
	p.servedMu.Lock()
	p.served[t]++
	p.servedMu.Unlock()
}

// dispatch runs one claimed request to completion on this slot.
func (p *Pool) dispatch(req *request.ScheduledRequest) {
	req.ClaimedBy = p.replicaID
	wait := req.Wait(time.Now().UTC())
	p.hooks.EmitRequestDispatched(context.Background(), req, wait)

	ctx, cancel := context.WithCancel(context.Background())
	p.track(req.ID.String(), cancel)

	if dispatchErr := p.dispatcher.Dispatch(ctx, req); dispatchErr != nil {
		p.logger.Debug("dispatch finished with error",
			slog.String("request_id", req.ID.String()),
			slog.String("tenant_id", req.TenantID),
			slog.String("error", dispatchErr.Error()),
		)
	}

	p.untrack(req.ID.String())
	cancel()
}

// requeue returns a claimed request to the queue when the local guard
// refuses it. Another replica, or a later claim here, picks it up.
func (p *Pool) requeue(req *request.ScheduledRequest) {
	req.Status = request.StatusQueued
	req.ClaimedBy = id.Nil
	if err := p.store.UpdateRequest(context.Background(), req); err != nil {
		p.logger.Error("failed to requeue guarded request",
			slog.String("request_id", req.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.claimInterval):
	case <-p.wakeCh:
	case <-p.stopCh:
	}
}

func (p *Pool) track(requestID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[requestID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(requestID string) {
	p.activeMu.Lock()
	delete(p.active, requestID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for requestID, cancel := range p.active {
		p.logger.Warn("cancelling in-flight dispatch", slog.String("request_id", requestID))
		cancel()
	}
}

// ActiveCount returns the number of requests currently being dispatched
// by this pool.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}
