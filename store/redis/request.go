package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// EnqueueRequest stores the request as a Hash and adds it to its tier's
// queue Sorted Set and the deadline index.
func (s *Store) EnqueueRequest(ctx context.Context, r *request.ScheduledRequest) error {
	rID := r.ID.String()
	key := requestKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tenantfair/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return tenantfair.ErrRequestAlreadyExists
	}

	if s.queueCeiling > 0 {
		depth, lErr := s.QueueLen(ctx)
		if lErr != nil {
			return lErr
		}
		if depth >= s.queueCeiling {
			return tenantfair.ErrCapacityExhausted
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, requestToMap(r))
	pipe.ZAdd(ctx, queueKey(r.Tier), goredis.Z{Score: arrivalScore(r.ArrivalAt), Member: rID})
	pipe.ZAdd(ctx, deadlinesKey, goredis.Z{Score: deadlineScore(r.Deadline), Member: rID})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantfair/redis: enqueue request: %w", err)
	}
	return nil
}

// DequeueForTier atomically pops up to max requests from the tier's
// queue in arrival order, marking them Dispatched. Members whose hash
// was settled by a concurrent expiry sweep are skipped.
func (s *Store) DequeueForTier(ctx context.Context, t tier.Tier, max int) ([]*request.ScheduledRequest, error) {
	members, err := s.client.ZPopMin(ctx, queueKey(t), int64(max)).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: dequeue zpopmin: %w", err)
	}

	now := time.Now().UTC()
	requests := make([]*request.ScheduledRequest, 0, len(members))
	for _, z := range members {
		rID, ok := z.Member.(string)
		if !ok {
			continue
		}
		r, cErr := s.claimPopped(ctx, rID, now)
		if cErr != nil {
			return nil, cErr
		}
		if r != nil {
			requests = append(requests, r)
		}
	}
	return requests, nil
}

// claimPopped transitions a popped queue member from Queued to
// Dispatched under WATCH on the request hash, so a request the expiry
// sweep settles between the pop and the claim is never also dispatched.
// It returns nil when the request is gone or no longer Queued.
func (s *Store) claimPopped(ctx context.Context, rID string, now time.Time) (*request.ScheduledRequest, error) {
	key := requestKey(rID)

	for attempt := 1; attempt <= bucketCASAttempts; attempt++ {
		var claimed *request.ScheduledRequest
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			vals, gErr := tx.HGetAll(ctx, key).Result()
			if gErr != nil {
				return fmt.Errorf("tenantfair/redis: claim get: %w", gErr)
			}
			if len(vals) == 0 {
				// Orphaned queue member; prune the stray index entry.
				_, pErr := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
					pipe.ZRem(ctx, deadlinesKey, rID)
					return nil
				})
				return pErr
			}
			r, mErr := mapToRequest(vals)
			if mErr != nil {
				return mErr
			}
			if r.Status != request.StatusQueued {
				// Settled elsewhere between the pop and the claim.
				return nil
			}

			_, pErr := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.HSet(ctx, key,
					"status", string(request.StatusDispatched),
					"dispatched_at", now.Format(time.RFC3339Nano),
				)
				pipe.ZRem(ctx, deadlinesKey, rID)
				return nil
			})
			if pErr != nil {
				return pErr
			}

			dispatchedAt := now
			r.Status = request.StatusDispatched
			r.DispatchedAt = &dispatchedAt
			claimed = r
			return nil
		}, key)

		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return nil, err
		}

		select {
		case <-time.After(s.casBackoff.Delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// Persistent contention: leave the request where it is. The deadline
	// index still covers it, so a later sweep settles it.
	return nil, nil
}

// RemoveExpired removes up to max queued requests whose deadline is
// before now, marking them TimedOut. The deadline index yields them in
// earliest-deadline order.
func (s *Store) RemoveExpired(ctx context.Context, now time.Time, max int) ([]*request.ScheduledRequest, error) {
	ids, err := s.client.ZRangeByScore(ctx, deadlinesKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("(%d", now.UnixNano()),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: expired range: %w", err)
	}

	expired := make([]*request.ScheduledRequest, 0, len(ids))
	for _, rID := range ids {
		r, eErr := s.expireQueued(ctx, rID)
		if eErr != nil {
			return nil, eErr
		}
		if r != nil {
			expired = append(expired, r)
		}
	}
	return expired, nil
}

// expireQueued transitions a deadline-indexed request from Queued to
// TimedOut under WATCH on the request hash, so a request a worker
// dispatches mid-sweep is never also timed out. It returns nil when the
// request is gone or no longer Queued; the index entry is pruned either
// way.
func (s *Store) expireQueued(ctx context.Context, rID string) (*request.ScheduledRequest, error) {
	key := requestKey(rID)

	var expired *request.ScheduledRequest
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		vals, gErr := tx.HGetAll(ctx, key).Result()
		if gErr != nil {
			return fmt.Errorf("tenantfair/redis: expire get: %w", gErr)
		}
		if len(vals) == 0 || request.Status(vals["status"]) != request.StatusQueued {
			_, pErr := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.ZRem(ctx, deadlinesKey, rID)
				return nil
			})
			return pErr
		}
		r, mErr := mapToRequest(vals)
		if mErr != nil {
			return mErr
		}

		_, pErr := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", string(request.StatusTimedOut))
			pipe.ZRem(ctx, queueKey(r.Tier), rID)
			pipe.ZRem(ctx, deadlinesKey, rID)
			return nil
		})
		if pErr != nil {
			return pErr
		}

		r.Status = request.StatusTimedOut
		expired = r
		return nil
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		// A worker claimed the request mid-sweep; it owns the
		// settlement now.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// CancelRequest sets the logical cancellation flag on a queued request.
func (s *Store) CancelRequest(ctx context.Context, requestID id.RequestID) error {
	key := requestKey(requestID.String())

	status, err := s.client.HGet(ctx, key, "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return tenantfair.ErrRequestNotFound
		}
		return fmt.Errorf("tenantfair/redis: cancel get status: %w", err)
	}
	if request.Status(status) != request.StatusQueued {
		return tenantfair.ErrInvalidState
	}

	if err := s.client.HSet(ctx, key, "cancelled", "1").Err(); err != nil {
		return fmt.Errorf("tenantfair/redis: cancel request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (*request.ScheduledRequest, error) {
	return s.getRequestByKey(ctx, requestKey(requestID.String()))
}

// UpdateRequest persists changes to an existing request. Moving the
// status back to Queued re-adds it to its tier's queue at its original
// arrival score.
func (s *Store) UpdateRequest(ctx context.Context, r *request.ScheduledRequest) error {
	rID := r.ID.String()
	key := requestKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tenantfair/redis: update request exists: %w", err)
	}
	if exists == 0 {
		return tenantfair.ErrRequestNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, requestToMap(r))
	if r.Status == request.StatusQueued {
		pipe.ZAdd(ctx, queueKey(r.Tier), goredis.Z{Score: arrivalScore(r.ArrivalAt), Member: rID})
		pipe.ZAdd(ctx, deadlinesKey, goredis.Z{Score: deadlineScore(r.Deadline), Member: rID})
	} else {
		pipe.ZRem(ctx, queueKey(r.Tier), rID)
		pipe.ZRem(ctx, deadlinesKey, rID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantfair/redis: update request: %w", err)
	}
	return nil
}

// QueueDepths returns the number of queued requests per tier.
func (s *Store) QueueDepths(ctx context.Context) (map[tier.Tier]int, error) {
	depths := make(map[tier.Tier]int, len(tier.All()))
	for _, t := range tier.All() {
		n, err := s.client.ZCard(ctx, queueKey(t)).Result()
		if err != nil {
			return nil, fmt.Errorf("tenantfair/redis: queue depth %s: %w", t, err)
		}
		depths[t] = int(n)
	}
	return depths, nil
}

// QueueLen returns the total number of queued requests.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	depths, err := s.QueueDepths(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range depths {
		total += n
	}
	return total, nil
}

// ── helpers ──

// arrivalScore is the queue Sorted Set score: arrival time in
// nanoseconds. Exact-nanosecond ties fall back to Redis's lexicographic
// member order, which matches the K-sortable request IDs.
func arrivalScore(arrival time.Time) float64 { return float64(arrival.UnixNano()) }

// deadlineScore is the deadline index score, nanoseconds.
func deadlineScore(deadline time.Time) float64 { return float64(deadline.UnixNano()) }

func requestToMap(r *request.ScheduledRequest) map[string]interface{} {
	m := map[string]interface{}{
		"id":         r.ID.String(),
		"tenant_id":  r.TenantID,
		"tier":       r.Tier.String(),
		"payload":    string(r.Payload),
		"arrival_at": r.ArrivalAt.Format(time.RFC3339Nano),
		"deadline":   r.Deadline.Format(time.RFC3339Nano),
		"status":     string(r.Status),
		"cancelled":  boolToStr(r.Cancelled),
		"claimed_by": r.ClaimedBy.String(),
		"last_error": r.LastError,
	}
	if r.DispatchedAt != nil {
		m["dispatched_at"] = r.DispatchedAt.Format(time.RFC3339Nano)
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getRequestByKey(ctx context.Context, key string) (*request.ScheduledRequest, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: get request: %w", err)
	}
	if len(vals) == 0 {
		return nil, tenantfair.ErrRequestNotFound
	}
	return mapToRequest(vals)
}

func mapToRequest(m map[string]string) (*request.ScheduledRequest, error) {
	rID, err := id.ParseRequestID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: parse request id: %w", err)
	}

	t, _ := tier.Parse(m["tier"])                                 //nolint:errcheck // best-effort parse from trusted Redis data
	arrivalAt, _ := time.Parse(time.RFC3339Nano, m["arrival_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	deadline, _ := time.Parse(time.RFC3339Nano, m["deadline"])    //nolint:errcheck // best-effort parse from trusted Redis data

	r := &request.ScheduledRequest{
		ID:        rID,
		TenantID:  m["tenant_id"],
		Tier:      t,
		Payload:   []byte(m["payload"]),
		ArrivalAt: arrivalAt,
		Deadline:  deadline,
		Status:    request.Status(m["status"]),
		Cancelled: m["cancelled"] == "1",
		LastError: m["last_error"],
	}

	if v := m["claimed_by"]; v != "" {
		r.ClaimedBy, _ = id.ParseReplicaID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["dispatched_at"]; v != "" {
		ts, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.DispatchedAt = &ts
	}
	if v := m["completed_at"]; v != "" {
		ts, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.CompletedAt = &ts
	}
	return r, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
