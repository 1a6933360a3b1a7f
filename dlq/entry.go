package dlq

import (
	"time"

	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/tier"
)

// Entry represents a request that expired in the queue and was moved to
// the dead letter queue for inspection or replay.
type Entry struct {
	ID         id.DLQID     `json:"id"`
	RequestID  id.RequestID `json:"request_id"`
	TenantID   string       `json:"tenant_id"`
	Tier       tier.Tier    `json:"tier"`
	Payload    []byte       `json:"payload"`
	Reason     string       `json:"reason"`
	ArrivalAt  time.Time    `json:"arrival_at"`
	DeadlineAt time.Time    `json:"deadline_at"`
	RecordedAt time.Time    `json:"recorded_at"`
	ReplayedAt *time.Time   `json:"replayed_at,omitempty"`
}

// MaxWait returns the queue residency the original request was allowed.
// Replays grant the same budget from their new arrival time.
func (e *Entry) MaxWait() time.Duration {
	return e.DeadlineAt.Sub(e.ArrivalAt)
}
