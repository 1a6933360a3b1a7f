package alloc

import (
	"sync"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// Ledger tracks credit consumption against one tick's grants. The
// worker pool consults it before every dequeue; a fresh Ledger replaces
// it on the next tick, so unused credits cannot be hoarded.
// It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	tick     time.Time
	grants   map[tier.Tier]int
	consumed map[tier.Tier]int
}

// NewLedger creates a ledger for one tick's grants.
func NewLedger(tick time.Time, grants map[tier.Tier]int) *Ledger {
	return &Ledger{
		tick:     tick,
		grants:   grants,
		consumed: make(map[tier.Tier]int, len(grants)),
	}
}

// TryConsume claims one credit for the tier. It returns false when the
// tier has exhausted its grant for this tick.
func (l *Ledger) TryConsume(t tier.Tier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed[t] >= l.grants[t] {
		return false
	}
	l.consumed[t]++
	return true
}

// Refund returns a credit claimed by TryConsume when the dequeue
// produced no dispatchable request (empty queue or a cancelled entry).
func (l *Ledger) Refund(t tier.Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed[t] > 0 {
		l.consumed[t]--
	}
}

// HasCredit reports whether the tier still has an unconsumed credit in
// this tick, without claiming it.
func (l *Ledger) HasCredit(t tier.Tier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consumed[t] < l.grants[t]
}

// Exhausted reports whether every tier with a grant has consumed it.
func (l *Ledger) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for t, g := range l.grants {
		if l.consumed[t] < g {
			return false
		}
	}
	return true
}

// Snapshot returns the per-tier allocation records for this tick, in
// tier ordinal order.
func (l *Ledger) Snapshot() []Allocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Allocation, 0, len(tier.All()))
	for _, t := range tier.All() {
		out = append(out, Allocation{
			Tier:     t,
			Granted:  l.grants[t],
			Consumed: l.consumed[t],
			Tick:     l.tick,
		})
	}
	return out
}
