package dlq

import (
	"context"
	"time"

	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/request"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	requests request.Store
	now      func() time.Time
}

// NewService creates a DLQ service.
func NewService(store Store, requests request.Store) *Service {
	return &Service{store: store, requests: requests, now: time.Now}
}

// Push builds a DLQ Entry from an expired request and persists it.
func (s *Service) Push(ctx context.Context, req *request.ScheduledRequest, reason string) error {
	entry := &Entry{
		ID:         id.NewDLQID(),
		RequestID:  req.ID,
		TenantID:   req.TenantID,
		Tier:       req.Tier,
		Payload:    req.Payload,
		Reason:     reason,
		ArrivalAt:  req.ArrivalAt,
		DeadlineAt: req.Deadline,
		RecordedAt: s.now().UTC(),
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
