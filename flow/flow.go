// Package flow provides the replica-local dispatch guard: per-tier and
// per-tenant in-flight bounds plus local dispatch pacing. The guard
// covers work this replica has claimed from the global queue but not
// yet finished — the spec's "in-flight" accounting — so claimed work is
// counted exactly once.
package flow

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/jabbala/tenantfair/tier"
)

// TierLimit bounds local in-flight work for one tier.
type TierLimit struct {
	// Tier this limit applies to.
	Tier tier.Tier

	// MaxInFlight limits how many requests of this tier may be between
	// claim and completion on this replica. Zero means no tier-specific
	// limit (the worker pool size still applies).
	MaxInFlight int

	// DispatchRate is the maximum sustained dispatches per second for
	// this tier on this replica. Zero disables pacing.
	DispatchRate float64

	// DispatchBurst is the burst size for the pacing limiter.
	// Defaults to 1 if DispatchRate is set but DispatchBurst is zero.
	DispatchBurst int
}

// TenantLimit bounds local in-flight work for one tenant.
type TenantLimit struct {
	TenantID      string
	MaxInFlight   int
	DispatchRate  float64
	DispatchBurst int
}

// tierState tracks runtime state for a single tier.
type tierState struct {
	limit   TierLimit
	limiter *rate.Limiter
	active  int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limit   TenantLimit
	limiter *rate.Limiter
	active  int
}

// Guard controls local in-flight bounds and dispatch pacing.
// It is safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	tiers   map[tier.Tier]*tierState
	tenants map[string]*tenantState
	active  int
}

// NewGuard creates a Guard with the given tier limits. Tiers not listed
// have no local limits.
func NewGuard(limits ...TierLimit) *Guard {
	g := &Guard{
		tiers:   make(map[tier.Tier]*tierState, len(limits)),
		tenants: make(map[string]*tenantState),
	}
	for _, l := range limits {
		g.tiers[l.Tier] = newTierState(l)
	}
	return g
}

func newTierState(l TierLimit) *tierState {
	ts := &tierState{limit: l}
	if l.DispatchRate > 0 {
		burst := l.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(l.DispatchRate), burst)
	}
	return ts
}

// SetTenantLimit configures local bounds for a specific tenant. Calling
// this again for the same tenant replaces the previous configuration,
// preserving the current active count.
func (g *Guard) SetTenantLimit(l TenantLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ns := &tenantState{limit: l}
	if l.DispatchRate > 0 {
		burst := l.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		ns.limiter = rate.NewLimiter(rate.Limit(l.DispatchRate), burst)
	}
	if existing := g.tenants[l.TenantID]; existing != nil {
		ns.active = existing.active
	}
	g.tenants[l.TenantID] = ns
}

// Acquire checks pacing and in-flight bounds for the tier/tenant
// combination. If the dispatch may proceed it increments the active
// counters and returns true. The caller MUST call Release when the
// request completes.
func (g *Guard) Acquire(t tier.Tier, tenantID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.tiers[t]
	var ns *tenantState
	if tenantID != "" {
		ns = g.tenants[tenantID]
	}

	// In-flight bounds first: a refused acquire must not consume
	// anyone's pacing tokens.
	if ts != nil && ts.limit.MaxInFlight > 0 && ts.active >= ts.limit.MaxInFlight {
		return false
	}
	if ns != nil && ns.limit.MaxInFlight > 0 && ns.active >= ns.limit.MaxInFlight {
		return false
	}

	// The tier pacing token is reserved, not spent, until the tenant
	// check also passes.
	var res *rate.Reservation
	if ts != nil && ts.limiter != nil {
		res = ts.limiter.Reserve()
		if !res.OK() || res.Delay() > 0 {
			res.Cancel()
			return false
		}
	}
	if ns != nil && ns.limiter != nil && !ns.limiter.Allow() {
		if res != nil {
			res.Cancel()
		}
		return false
	}

	if ns != nil {
		ns.active++
	}
	if ts != nil {
		ts.active++
	}
	g.active++
	return true
}

// Release decrements the active counters for the tier/tenant pair.
func (g *Guard) Release(t tier.Tier, tenantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ts := g.tiers[t]; ts != nil && ts.active > 0 {
		ts.active--
	}
	if tenantID != "" {
		if ns := g.tenants[tenantID]; ns != nil && ns.active > 0 {
			ns.active--
		}
	}
	if g.active > 0 {
		g.active--
	}
}

// ActiveCount returns the current local in-flight count for a tier.
func (g *Guard) ActiveCount(t tier.Tier) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts := g.tiers[t]; ts != nil {
		return ts.active
	}
	return 0
}

// TenantActiveCount returns the current local in-flight count for a tenant.
func (g *Guard) TenantActiveCount(tenantID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ns := g.tenants[tenantID]; ns != nil {
		return ns.active
	}
	return 0
}

// TotalActive returns the total local in-flight count.
func (g *Guard) TotalActive() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
