package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/tier"
)

// PushDLQ adds an expired request entry to the dead letter queue. The
// index Sorted Set is scored by recorded time for newest-first listing.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, dlqIndexKey, goredis.Z{
		Score:  float64(entry.RecordedAt.UnixNano()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantfair/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	} else if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, tenantfair.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed, exactly once.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())

	replayed, err := s.client.HGet(ctx, key, "replayed_at").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("tenantfair/redis: replay dlq get: %w", err)
	}
	if errors.Is(err, goredis.Nil) {
		exists, eErr := s.client.Exists(ctx, key).Result()
		if eErr != nil {
			return fmt.Errorf("tenantfair/redis: replay dlq exists: %w", eErr)
		}
		if exists == 0 {
			return tenantfair.ErrDLQNotFound
		}
	}
	if replayed != "" {
		return tenantfair.ErrAlreadyResolved
	}

	if err := s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("tenantfair/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries recorded before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	cutoff := fmt.Sprintf("(%d", before.UnixNano())
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("tenantfair/redis: purge dlq range: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.ZRem(ctx, dlqIndexKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("tenantfair/redis: purge dlq del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("tenantfair/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":          e.ID.String(),
		"request_id":  e.RequestID.String(),
		"tenant_id":   e.TenantID,
		"tier":        e.Tier.String(),
		"payload":     string(e.Payload),
		"reason":      e.Reason,
		"arrival_at":  e.ArrivalAt.Format(time.RFC3339Nano),
		"deadline_at": e.DeadlineAt.Format(time.RFC3339Nano),
		"recorded_at": e.RecordedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: parse dlq id: %w", err)
	}

	requestID, _ := id.ParseRequestID(m["request_id"])              //nolint:errcheck // best-effort parse from trusted Redis data
	t, _ := tier.Parse(m["tier"])                                   //nolint:errcheck // best-effort parse from trusted Redis data
	arrivalAt, _ := time.Parse(time.RFC3339Nano, m["arrival_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	deadlineAt, _ := time.Parse(time.RFC3339Nano, m["deadline_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	recordedAt, _ := time.Parse(time.RFC3339Nano, m["recorded_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:         eID,
		RequestID:  requestID,
		TenantID:   m["tenant_id"],
		Tier:       t,
		Payload:    []byte(m["payload"]),
		Reason:     m["reason"],
		ArrivalAt:  arrivalAt,
		DeadlineAt: deadlineAt,
		RecordedAt: recordedAt,
	}

	if v := m["replayed_at"]; v != "" {
		ts, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &ts
	}
	return e, nil
}
