package tenantfair

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("tenantfair: no store configured")
	ErrStoreClosed = errors.New("tenantfair: store closed")

	// Not found errors.
	ErrRequestNotFound = errors.New("tenantfair: request not found")
	ErrDLQNotFound     = errors.New("tenantfair: dlq entry not found")
	ErrReplicaNotFound = errors.New("tenantfair: replica not found")

	// Admission and lifecycle errors.
	ErrRateLimited       = errors.New("tenantfair: rate limited")
	ErrCapacityExhausted = errors.New("tenantfair: queue capacity exhausted")
	ErrQueueTimeout      = errors.New("tenantfair: queued past deadline")
	ErrCancelled         = errors.New("tenantfair: request cancelled")

	// Conflict errors.
	ErrRequestAlreadyExists = errors.New("tenantfair: request already exists")
	ErrAlreadyResolved      = errors.New("tenantfair: request already resolved")

	// State errors.
	ErrInvalidState = errors.New("tenantfair: invalid status transition")
	ErrNotLeader    = errors.New("tenantfair: not the leader")
)

// RateLimitedError is returned by Submit when the token bucket rejects a
// request. It carries the retry hint so callers can apply backoff.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	TenantID   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("tenantfair: tenant %s rate limited, retry after %s", e.TenantID, e.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RejectReason is the machine-readable cause attached to every rejection
// or terminal failure. Clients use it to choose a retry strategy; the
// metrics surface uses it as a label.
type RejectReason string

const (
	ReasonRateLimited       RejectReason = "rate_limited"
	ReasonCapacityExhausted RejectReason = "capacity_exhausted"
	ReasonTimedOut          RejectReason = "timed_out"
	ReasonCancelled         RejectReason = "cancelled"
	ReasonDispatchFailure   RejectReason = "dispatch_failure"
)
