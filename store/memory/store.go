// Package memory implements store.Store entirely in process memory.
// Safe for concurrent access. Intended for unit testing, development,
// and single-replica deployments where cross-process fairness is not
// required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/governor"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/limiter"
	"github.com/jabbala/tenantfair/replica"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ request.Store  = (*Store)(nil)
	_ limiter.Store  = (*Store)(nil)
	_ governor.Store = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ replica.Store  = (*Store)(nil)
)

// usageSample is one recorded dispatch for the governor's window.
type usageSample struct {
	tenantID string
	tier     tier.Tier
	at       time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	requests map[string]*request.ScheduledRequest
	buckets  map[string]limiter.Bucket
	usage    []usageSample
	dlqs     map[string]*dlq.Entry
	replicas map[string]*replica.Replica

	// queueCeiling bounds the number of Queued requests. Zero means
	// unlimited.
	queueCeiling int

	// leader tracks the current fleet leader replica ID string.
	leader      string
	leaderUntil time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithQueueCeiling bounds the global queue depth.
func WithQueueCeiling(n int) Option {
	return func(s *Store) { s.queueCeiling = n }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		requests: make(map[string]*request.ScheduledRequest),
		buckets:  make(map[string]limiter.Bucket),
		dlqs:     make(map[string]*dlq.Entry),
		replicas: make(map[string]*replica.Replica),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle — Ping / Close
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Request Store
// ──────────────────────────────────────────────────

// queuedLocked counts requests currently in Queued state. Callers hold
// the lock.
func (m *Store) queuedLocked() int {
	n := 0
	for _, r := range m.requests {
		if r.Status == request.StatusQueued {
			n++
		}
	}
	return n
}

// EnqueueRequest adds a queued request to the global priority queue.
func (m *Store) EnqueueRequest(_ context.Context, r *request.ScheduledRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.requests[key]; exists {
		return tenantfair.ErrRequestAlreadyExists
	}
	if m.queueCeiling > 0 && m.queuedLocked() >= m.queueCeiling {
		return tenantfair.ErrCapacityExhausted
	}
	cp := *r
	m.requests[key] = &cp
	return nil
}

// DequeueForTier atomically pops up to max queued requests of the given
// tier in arrival order, marking them Dispatched.
func (m *Store) DequeueForTier(_ context.Context, t tier.Tier, max int) ([]*request.ScheduledRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*request.ScheduledRequest, 0, max)
	for _, r := range m.requests {
		if r.Status == request.StatusQueued && r.Tier == t {
			candidates = append(candidates, r)
		}
	}

	// Arrival order; ID breaks exact-timestamp ties deterministically.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].ArrivalAt.Equal(candidates[k].ArrivalAt) {
			return candidates[i].ArrivalAt.Before(candidates[k].ArrivalAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}

	now := time.Now().UTC()
	result := make([]*request.ScheduledRequest, len(candidates))
	for i, r := range candidates {
		r.Status = request.StatusDispatched
		n := now
		r.DispatchedAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// RemoveExpired atomically removes up to max queued requests whose
// deadline has passed, marking them TimedOut.
func (m *Store) RemoveExpired(_ context.Context, now time.Time, max int) ([]*request.ScheduledRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := make([]*request.ScheduledRequest, 0)
	for _, r := range m.requests {
		if r.Status == request.StatusQueued && r.Deadline.Before(now) {
			expired = append(expired, r)
		}
	}

	sort.Slice(expired, func(i, k int) bool {
		return expired[i].Deadline.Before(expired[k].Deadline)
	})
	if max > 0 && len(expired) > max {
		expired = expired[:max]
	}

	result := make([]*request.ScheduledRequest, len(expired))
	for i, r := range expired {
		r.Status = request.StatusTimedOut
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// CancelRequest sets the logical cancellation flag on a queued request.
func (m *Store) CancelRequest(_ context.Context, requestID id.RequestID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestID.String()]
	if !ok {
		return tenantfair.ErrRequestNotFound
	}
	if r.Status != request.StatusQueued {
		return tenantfair.ErrInvalidState
	}
	r.Cancelled = true
	return nil
}

// GetRequest retrieves a request by ID.
func (m *Store) GetRequest(_ context.Context, requestID id.RequestID) (*request.ScheduledRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[requestID.String()]
	if !ok {
		return nil, tenantfair.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRequest persists changes to an existing request.
func (m *Store) UpdateRequest(_ context.Context, r *request.ScheduledRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.requests[key]; !ok {
		return tenantfair.ErrRequestNotFound
	}
	cp := *r
	m.requests[key] = &cp
	return nil
}

// QueueDepths returns the number of queued requests per tier.
func (m *Store) QueueDepths(_ context.Context) (map[tier.Tier]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	depths := make(map[tier.Tier]int, len(tier.All()))
	for _, r := range m.requests {
		if r.Status == request.StatusQueued {
			depths[r.Tier]++
		}
	}
	return depths, nil
}

// QueueLen returns the total number of queued requests.
func (m *Store) QueueLen(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queuedLocked(), nil
}

// ──────────────────────────────────────────────────
// Limiter Store
// ──────────────────────────────────────────────────

// MutateBucket applies fn to the tenant's bucket under the store lock,
// giving the limiter the same read-modify-write atomicity the Redis
// backend provides with WATCH.
func (m *Store) MutateBucket(_ context.Context, tenantID string, fn func(b limiter.Bucket, exists bool) (limiter.Bucket, bool)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[tenantID]
	next, write := fn(b, ok)
	if write {
		m.buckets[tenantID] = next
	}
	return nil
}

// GetBucket returns the tenant's bucket state.
func (m *Store) GetBucket(_ context.Context, tenantID string) (limiter.Bucket, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[tenantID]
	return b, ok, nil
}

// ──────────────────────────────────────────────────
// Governor Store
// ──────────────────────────────────────────────────

// RecordDispatch counts one dispatch for the tenant's sliding window.
func (m *Store) RecordDispatch(_ context.Context, tenantID string, t tier.Tier, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage = append(m.usage, usageSample{tenantID: tenantID, tier: t, at: at})

	// Drop samples older than an hour so the slice cannot grow without
	// bound in long-running processes.
	cutoff := at.Add(-time.Hour)
	first := 0
	for first < len(m.usage) && m.usage[first].at.Before(cutoff) {
		first++
	}
	if first > 0 {
		m.usage = append(m.usage[:0:0], m.usage[first:]...)
	}
	return nil
}

// ConsumptionWindow returns the tenant's dispatch count in [from, to).
func (m *Store) ConsumptionWindow(_ context.Context, tenantID string, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.usage {
		if s.tenantID == tenantID && !s.at.Before(from) && s.at.Before(to) {
			n++
		}
	}
	return n, nil
}

// ObservedTenants returns every tenant with consumption in [from, to).
func (m *Store) ObservedTenants(_ context.Context, from, to time.Time) (map[string]tier.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]tier.Tier)
	for _, s := range m.usage {
		if !s.at.Before(from) && s.at.Before(to) {
			out[s.tenantID] = s.tier
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an expired request entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
	}

	sort.Slice(entries, func(i, k int) bool {
		if !entries[i].RecordedAt.Equal(entries[k].RecordedAt) {
			return entries[i].RecordedAt.After(entries[k].RecordedAt)
		}
		return entries[i].ID.String() < entries[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, tenantfair.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed, exactly once.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return tenantfair.ErrDLQNotFound
	}
	if e.ReplayedAt != nil {
		return tenantfair.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries recorded before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, e := range m.dlqs {
		if e.RecordedAt.Before(before) {
			delete(m.dlqs, key)
			removed++
		}
	}
	return removed, nil
}

// CountDLQ returns the total number of DLQ entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Replica Store
// ──────────────────────────────────────────────────

// RegisterReplica adds a replica to the registry.
func (m *Store) RegisterReplica(_ context.Context, r *replica.Replica) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.replicas[r.ID.String()] = &cp
	return nil
}

// DeregisterReplica removes a replica from the registry.
func (m *Store) DeregisterReplica(_ context.Context, replicaID id.ReplicaID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := replicaID.String()
	if _, ok := m.replicas[key]; !ok {
		return tenantfair.ErrReplicaNotFound
	}
	delete(m.replicas, key)
	if m.leader == key {
		m.leader = ""
	}
	return nil
}

// HeartbeatReplica updates the last-seen timestamp for a replica.
func (m *Store) HeartbeatReplica(_ context.Context, replicaID id.ReplicaID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.replicas[replicaID.String()]
	if !ok {
		return tenantfair.ErrReplicaNotFound
	}
	r.LastSeen = time.Now().UTC()
	return nil
}

// ListReplicas returns all registered replicas.
func (m *Store) ListReplicas(_ context.Context) ([]*replica.Replica, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*replica.Replica, 0, len(m.replicas))
	for _, r := range m.replicas {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// ReapDeadReplicas returns replicas whose last-seen timestamp is older
// than the threshold.
func (m *Store) ReapDeadReplicas(_ context.Context, threshold time.Duration) ([]*replica.Replica, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*replica.Replica
	for _, r := range m.replicas {
		if r.LastSeen.Before(cutoff) {
			cp := *r
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the fleet leader.
func (m *Store) AcquireLeadership(_ context.Context, replicaID id.ReplicaID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := replicaID.String()

	if m.leader != "" && m.leader != key && m.leaderUntil.After(now) {
		return false, nil
	}

	m.leader = key
	m.leaderUntil = now.Add(ttl)
	if r, ok := m.replicas[key]; ok {
		r.IsLeader = true
		until := m.leaderUntil
		r.LeaderUntil = &until
	}
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, replicaID id.ReplicaID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := replicaID.String()

	if m.leader != key || !m.leaderUntil.After(now) {
		return false, nil
	}

	m.leaderUntil = now.Add(ttl)
	if r, ok := m.replicas[key]; ok {
		until := m.leaderUntil
		r.LeaderUntil = &until
	}
	return true, nil
}

// GetLeader returns the current fleet leader, or nil if there is none.
func (m *Store) GetLeader(_ context.Context) (*replica.Replica, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(time.Now().UTC()) {
		return nil, nil
	}
	r, ok := m.replicas[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}
