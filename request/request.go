// Package request defines the ScheduledRequest entity — one unit of
// admitted work — its status lifecycle, and the global priority queue
// contract all replicas share.
package request

import (
	"time"

	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/tier"
)

// Status represents the lifecycle state of a scheduled request.
// Transitions are one-way; every request ends in exactly one terminal
// status.
type Status string

const (
	// StatusQueued means the request passed admission and is waiting in
	// the global priority queue.
	StatusQueued Status = "queued"
	// StatusDispatched means a worker slot claimed the request and the
	// downstream pipeline is executing it.
	StatusDispatched Status = "dispatched"
	// StatusCompleted means the pipeline finished (successfully or not;
	// pipeline errors are surfaced to the caller as-is).
	StatusCompleted Status = "completed"
	// StatusRejected means admission or enqueue refused the request.
	StatusRejected Status = "rejected"
	// StatusTimedOut means the request out-waited its deadline while
	// queued and was moved to the DLQ.
	StatusTimedOut Status = "timed_out"
	// StatusCancelled means the caller withdrew the request before
	// dispatch.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// ScheduledRequest represents one unit of admitted work. It is owned
// exclusively by the queue until dispatched; ownership transfers to a
// worker on dispatch.
type ScheduledRequest struct {
	ID       id.RequestID `json:"id"`
	TenantID string       `json:"tenant_id"`
	Tier     tier.Tier    `json:"tier"`
	Payload  []byte       `json:"payload"`

	ArrivalAt time.Time `json:"arrival_at"`
	Deadline  time.Time `json:"deadline"`
	Status    Status    `json:"status"`

	// Cancelled is the logical cancellation flag set when the caller
	// disconnects before dispatch. The dequeue path checks it before a
	// worker slot is acquired.
	Cancelled bool `json:"cancelled,omitempty"`

	// ClaimedBy records which replica dequeued the request.
	ClaimedBy id.ReplicaID `json:"claimed_by,omitempty"`

	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// New builds a Queued request with a fresh ID and the given deadline
// offset from arrival.
func New(tenantID string, t tier.Tier, payload []byte, arrival time.Time, maxWait time.Duration) *ScheduledRequest {
	return &ScheduledRequest{
		ID:        id.NewRequestID(),
		TenantID:  tenantID,
		Tier:      t,
		Payload:   payload,
		ArrivalAt: arrival,
		Deadline:  arrival.Add(maxWait),
		Status:    StatusQueued,
	}
}

// Score returns the request's global priority score: the sort tuple
// (tier ordinal, arrival) collapsed into a single float where the tier
// component dominates. Lower scores dispatch first.
//
// The tier multiplier must exceed any realistic unix timestamp so the
// tier component is strictly most significant.
func (r *ScheduledRequest) Score() float64 {
	return Score(r.Tier, r.ArrivalAt)
}

// tierScoreStride separates tier bands in the combined score. Unix
// seconds stay below 1e12 for the next ~29,000 years.
const tierScoreStride = 1e12

// Score computes the combined (tier, arrival) priority score.
func Score(t tier.Tier, arrival time.Time) float64 {
	return float64(t)*tierScoreStride + float64(arrival.UnixNano())/float64(time.Second)
}

// Wait returns how long the request has been queued as of now.
func (r *ScheduledRequest) Wait(now time.Time) time.Duration {
	return now.Sub(r.ArrivalAt)
}

// Expired reports whether the request's deadline has passed.
func (r *ScheduledRequest) Expired(now time.Time) bool {
	return r.Deadline.Before(now)
}
