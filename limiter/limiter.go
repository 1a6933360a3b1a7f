// Package limiter implements the per-tenant token bucket that gates
// admission before a request may enter the queue.
//
// Bucket state lives in the shared store so concurrent replicas never
// double-spend a token: the limiter is a stateless function of
// (current stored state, now) and all writes go through an atomic
// read-modify-write on the store.
package limiter

import (
	"context"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// Bucket is the persisted token bucket state for one tenant.
// Invariant: 0 <= Tokens <= Burst.
type Bucket struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
	Rate       float64   `json:"rate"`  // sustained tokens/sec
	Burst      float64   `json:"burst"` // bucket capacity

	// Penalty multiplies Rate while the noisy-neighbor governor has
	// the tenant throttled. Zero means no penalty (factor 1).
	Penalty float64 `json:"penalty,omitempty"`
}

// effectiveRate returns the refill rate with any governor penalty applied.
func (b Bucket) effectiveRate() float64 {
	if b.Penalty > 0 && b.Penalty < 1 {
		return b.Rate * b.Penalty
	}
	return b.Rate
}

// Store defines the shared-state contract for bucket persistence.
type Store interface {
	// MutateBucket atomically applies fn to the tenant's bucket state.
	// fn receives the current state (and whether one exists) and
	// returns the new state plus whether it should be written.
	// Implementations must make the read-modify-write atomic against
	// concurrent mutations from other replicas (compare-and-swap or
	// equivalent); on conflict fn is re-invoked with fresh state.
	MutateBucket(ctx context.Context, tenantID string, fn func(b Bucket, exists bool) (Bucket, bool)) error

	// GetBucket returns the tenant's current bucket state.
	GetBucket(ctx context.Context, tenantID string) (Bucket, bool, error)
}

// AdmitResult is the admission decision for one request.
type AdmitResult struct {
	// Allowed reports whether a token was deducted and the request may
	// proceed to enqueue.
	Allowed bool

	// RetryAfter is the time until at least one token is available.
	// Only set when Allowed is false.
	RetryAfter time.Duration

	// Remaining is the token balance after the decision.
	Remaining float64
}

// Limiter gates admission per tenant. It is safe for concurrent use.
type Limiter struct {
	store Store
	tiers tier.Set
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock, letting tests drive refill arithmetic
// without real timers.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter over the given store and tier configuration.
func New(store Store, tiers tier.Set, opts ...Option) *Limiter {
	l := &Limiter{store: store, tiers: tiers, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit refills the tenant's bucket for the elapsed time and attempts
// to deduct one token. The check happens before enqueueing — rejected
// requests never occupy queue space.
//
// On rejection the bucket is not written: the balance stays derivable
// from the last persisted state, which keeps the arithmetic exact under
// repeated attempts.
func (l *Limiter) Admit(ctx context.Context, tenantID string, t tier.Tier) (AdmitResult, error) {
	cfg := l.tiers[t]
	var res AdmitResult

	err := l.store.MutateBucket(ctx, tenantID, func(b Bucket, exists bool) (Bucket, bool) {
		now := l.now()
		if !exists {
			b = Bucket{Tokens: cfg.BurstCapacity, LastRefill: now, Rate: cfg.SustainedRate, Burst: cfg.BurstCapacity}
		}

		tokens := refill(b, now)
		if tokens < 1 {
			deficit := 1 - tokens
			res = AdmitResult{
				Allowed:    false,
				RetryAfter: time.Duration(deficit / b.effectiveRate() * float64(time.Second)),
				Remaining:  tokens,
			}
			// A new tenant's initial bucket is still persisted so the
			// first observation is durable.
			return b, !exists
		}

		b.Tokens = tokens - 1
		b.LastRefill = now
		res = AdmitResult{Allowed: true, Remaining: b.Tokens}
		return b, true
	})
	if err != nil {
		return AdmitResult{}, err
	}
	return res, nil
}

// SetPenalty applies (or clears, with factor 1) a temporary refill-rate
// reduction on a tenant's bucket. The governor calls this; the factor is
// persisted in shared state so every replica's admission checks see it.
// The bucket is refilled to now at the old rate first, keeping the
// arithmetic exact across the rate change.
func (l *Limiter) SetPenalty(ctx context.Context, tenantID string, t tier.Tier, factor float64) error {
	cfg := l.tiers[t]
	return l.store.MutateBucket(ctx, tenantID, func(b Bucket, exists bool) (Bucket, bool) {
		now := l.now()
		if !exists {
			b = Bucket{Tokens: cfg.BurstCapacity, LastRefill: now, Rate: cfg.SustainedRate, Burst: cfg.BurstCapacity}
		}
		b.Tokens = refill(b, now)
		b.LastRefill = now
		b.Penalty = factor
		return b, true
	})
}

// Refund returns one token to the tenant's bucket, capped at the burst
// capacity. The engine calls this when a request was admitted but could
// not be enqueued, so a full queue does not also drain the tenant's
// admission budget.
func (l *Limiter) Refund(ctx context.Context, tenantID string) error {
	return l.store.MutateBucket(ctx, tenantID, func(b Bucket, exists bool) (Bucket, bool) {
		if !exists {
			return b, false
		}
		b.Tokens++
		if b.Tokens > b.Burst {
			b.Tokens = b.Burst
		}
		return b, true
	})
}

// refill returns the balance after continuous refill up to now, capped
// at the burst capacity.
func refill(b Bucket, now time.Time) float64 {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed <= 0 {
		return b.Tokens
	}
	tokens := b.Tokens + elapsed*b.effectiveRate()
	if tokens > b.Burst {
		return b.Burst
	}
	return tokens
}
