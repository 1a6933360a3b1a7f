package request

import (
	"context"
	"time"

	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/tier"
)

// Store defines the persistence contract for the global priority queue.
// All replicas enqueue into and dequeue from the same store; mutations
// are atomic at single-request granularity, never requiring a lock
// across tenants.
type Store interface {
	// EnqueueRequest adds a queued request to the global priority
	// queue. Fails with tenantfair.ErrCapacityExhausted when the
	// queue is at its configured ceiling, and with
	// tenantfair.ErrRequestAlreadyExists on duplicate IDs.
	EnqueueRequest(ctx context.Context, r *ScheduledRequest) error

	// DequeueForTier atomically pops up to max requests of the given
	// tier in arrival (FIFO) order. Popped requests are marked
	// Dispatched and removed from the queue; callers must still check
	// the Cancelled flag before invoking the pipeline.
	DequeueForTier(ctx context.Context, t tier.Tier, max int) ([]*ScheduledRequest, error)

	// RemoveExpired atomically removes up to max requests whose
	// deadline is before now, across all tiers, marking them TimedOut.
	// Requests already dispatched are never returned.
	RemoveExpired(ctx context.Context, now time.Time, max int) ([]*ScheduledRequest, error)

	// CancelRequest sets the logical cancellation flag on a request
	// that is still queued. Dispatched or terminal requests return
	// tenantfair.ErrInvalidState.
	CancelRequest(ctx context.Context, requestID id.RequestID) error

	// GetRequest retrieves a request by ID.
	GetRequest(ctx context.Context, requestID id.RequestID) (*ScheduledRequest, error)

	// UpdateRequest persists changes to an existing request (status,
	// completion timestamps, last error). Moving the status back to
	// Queued returns the request to the queue at its original priority.
	UpdateRequest(ctx context.Context, r *ScheduledRequest) error

	// QueueDepths returns the number of queued requests per tier.
	QueueDepths(ctx context.Context) (map[tier.Tier]int, error)

	// QueueLen returns the total number of queued requests.
	QueueLen(ctx context.Context) (int, error)
}
