// Package governor watches per-tenant dispatch consumption over a
// sliding window and throttles tenants that sustain usage above their
// tier's cap. Throttling is applied by slowing the tenant's token
// bucket refill, never by dropping queued work.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// State is a tenant's governor state.
type State string

const (
	// StateNormal means the tenant refills at its configured rate.
	StateNormal State = "normal"

	// StateThrottled means the tenant's refill rate carries a penalty.
	StateThrottled State = "throttled"
)

// Store records dispatch consumption and answers sliding-window queries.
// Implementations aggregate across replicas; the in-memory store is for
// single-process deployments and tests.
type Store interface {
	// RecordDispatch counts one dispatched request for the tenant at the
	// given instant.
	RecordDispatch(ctx context.Context, tenantID string, t tier.Tier, at time.Time) error

	// ConsumptionWindow returns the tenant's dispatch count in [from, to).
	ConsumptionWindow(ctx context.Context, tenantID string, from, to time.Time) (int, error)

	// ObservedTenants returns every tenant with recorded consumption in
	// [from, to), with its most recently seen tier.
	ObservedTenants(ctx context.Context, from, to time.Time) (map[string]tier.Tier, error)
}

// PenaltySetter adjusts a tenant's refill rate. The token bucket
// limiter satisfies this.
type PenaltySetter interface {
	SetPenalty(ctx context.Context, tenantID string, t tier.Tier, factor float64) error
}

// Transition describes a state change for observers.
type Transition struct {
	TenantID string
	Tier     tier.Tier
	From     State
	To       State
	// Consumption is the window count that drove the transition.
	Consumption int
	// Cap is the window allowance the count was compared against.
	Cap int
	At  time.Time
}

// Config tunes the governor.
type Config struct {
	// Window is the sliding consumption window.
	Window time.Duration

	// Sustain is how many consecutive over-cap scans trigger throttling.
	Sustain int

	// Cooldown is how many consecutive compliant scans clear a throttle.
	Cooldown int

	// Penalty multiplies the refill rate of throttled tenants. Must be
	// in (0, 1).
	Penalty float64

	// Tiers supplies the hard-cap percentages the window caps derive
	// from.
	Tiers tier.Set
}

// tenantTrack is the per-tenant scan history.
type tenantTrack struct {
	state      State
	tier       tier.Tier
	overCount  int
	underCount int
}

// Governor runs the scan loop. Only the leader replica should run a
// Governor; penalties land in the shared bucket state, so every replica
// enforces them regardless of which one decided.
type Governor struct {
	store    Store
	penalty  PenaltySetter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	onChange func(Transition)

	mu     sync.Mutex
	tracks map[string]*tenantTrack
}

// Option configures a Governor.
type Option func(*Governor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithTransitionHook registers a callback invoked on every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(g *Governor) { g.onChange = fn }
}

// New creates a Governor. It does not start any goroutines; drive it by
// calling Scan on a timer, typically from the engine's governor loop.
func New(store Store, penalty PenaltySetter, cfg Config, opts ...Option) *Governor {
	g := &Governor{
		store:   store,
		penalty: penalty,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		tracks:  make(map[string]*tenantTrack),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// windowCap is the number of dispatches a tenant of tier t may consume
// in one window without being considered over-cap. The basis is the
// dispatch volume actually observed across all tenants in the window:
// a tenant holding more than its hard-cap percentage of the cluster's
// work is over-cap even when it stays under its own admission rate.
func (g *Governor) windowCap(t tier.Tier, totalDispatches int) int {
	return totalDispatches * g.cfg.Tiers[t].HardCapPercent / 100
}

// Scan evaluates every observed tenant against its cap and advances the
// state machine. One call is one scan; the Sustain and Cooldown
// thresholds count calls.
func (g *Governor) Scan(ctx context.Context) error {
	now := g.now()
	from := now.Add(-g.cfg.Window)

	tenants, err := g.store.ObservedTenants(ctx, from, now)
	if err != nil {
		return err
	}

	// The cap basis is total observed consumption, so every count is
	// read before any tenant is evaluated.
	counts := make(map[string]int, len(tenants))
	total := 0
	for tenantID := range tenants {
		used, err := g.store.ConsumptionWindow(ctx, tenantID, from, now)
		if err != nil {
			return err
		}
		counts[tenantID] = used
		total += used
	}

	for tenantID, t := range tenants {
		if err := g.evaluate(ctx, tenantID, t, counts[tenantID], total, now); err != nil {
			return err
		}
	}

	// Tenants that went fully quiet still count as compliant scans: a
	// throttled tenant's cooldown keeps running, and a partial over-cap
	// streak is broken.
	for tenantID, t := range g.quietTracked(tenants) {
		if err := g.evaluate(ctx, tenantID, t, 0, total, now); err != nil {
			return err
		}
	}
	return nil
}

func (g *Governor) quietTracked(seen map[string]tier.Tier) map[string]tier.Tier {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]tier.Tier)
	for tenantID, tr := range g.tracks {
		if _, ok := seen[tenantID]; ok {
			continue
		}
		if tr.state == StateThrottled || tr.overCount > 0 {
			out[tenantID] = tr.tier
		}
	}
	return out
}

func (g *Governor) evaluate(ctx context.Context, tenantID string, t tier.Tier, used, total int, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tr := g.tracks[tenantID]
	if tr == nil {
		tr = &tenantTrack{state: StateNormal}
		g.tracks[tenantID] = tr
	}
	tr.tier = t

	cap := g.windowCap(t, total)
	over := used > cap

	switch tr.state {
	case StateNormal:
		if !over {
			tr.overCount = 0
			return nil
		}
		tr.overCount++
		if tr.overCount < g.cfg.Sustain {
			return nil
		}
		if err := g.penalty.SetPenalty(ctx, tenantID, t, g.cfg.Penalty); err != nil {
			return err
		}
		tr.state = StateThrottled
		tr.overCount = 0
		tr.underCount = 0
		g.logger.Warn("tenant throttled",
			"tenant_id", tenantID,
			"tier", t.String(),
			"consumption", used,
			"window_cap", cap,
			"penalty", g.cfg.Penalty)
		g.emit(Transition{
			TenantID: tenantID, Tier: t,
			From: StateNormal, To: StateThrottled,
			Consumption: used, Cap: cap, At: now,
		})

	case StateThrottled:
		if over {
			tr.underCount = 0
			return nil
		}
		tr.underCount++
		if tr.underCount < g.cfg.Cooldown {
			return nil
		}
		if err := g.penalty.SetPenalty(ctx, tenantID, t, 1); err != nil {
			return err
		}
		tr.state = StateNormal
		tr.overCount = 0
		tr.underCount = 0
		g.logger.Info("tenant unthrottled",
			"tenant_id", tenantID,
			"tier", t.String(),
			"consumption", used,
			"window_cap", cap)
		g.emit(Transition{
			TenantID: tenantID, Tier: t,
			From: StateThrottled, To: StateNormal,
			Consumption: used, Cap: cap, At: now,
		})
	}
	return nil
}

func (g *Governor) emit(tr Transition) {
	if g.onChange != nil {
		g.onChange(tr)
	}
}

// TenantState returns the governor state of a tenant. Tenants never
// evaluated are Normal.
func (g *Governor) TenantState(tenantID string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tr := g.tracks[tenantID]; tr != nil {
		return tr.state
	}
	return StateNormal
}

// ThrottledCount returns how many tenants are currently throttled.
func (g *Governor) ThrottledCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, tr := range g.tracks {
		if tr.state == StateThrottled {
			n++
		}
	}
	return n
}
