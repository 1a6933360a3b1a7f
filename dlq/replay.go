package dlq

import (
	"context"

	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/request"
)

// Replay re-enqueues a DLQ entry as a fresh queued request and marks
// the entry as replayed. The new request gets a fresh ID, a new arrival
// time, and the same queue-residency budget the original had. Marking
// happens first so a concurrent replay of the same entry cannot enqueue
// twice; the store rejects the second marker with ErrAlreadyResolved.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*request.ScheduledRequest, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return nil, err
	}

	req := request.New(entry.TenantID, entry.Tier, entry.Payload, s.now().UTC(), entry.MaxWait())
	if err := s.requests.EnqueueRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}
