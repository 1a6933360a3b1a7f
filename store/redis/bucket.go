package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jabbala/tenantfair/limiter"
)

// bucketCASAttempts bounds WATCH retries before giving up. Contention on
// a single key is rare; ten attempts with jittered backoff covers the
// pathological case of every replica touching the same tenant's bucket
// or the same request hash simultaneously.
const bucketCASAttempts = 10

// MutateBucket atomically applies fn to the tenant's bucket state using
// WATCH-based compare-and-swap. On a conflicting write by another
// replica the transaction aborts and fn is re-invoked with fresh state.
func (s *Store) MutateBucket(ctx context.Context, tenantID string, fn func(b limiter.Bucket, exists bool) (limiter.Bucket, bool)) error {
	key := bucketKey(tenantID)

	var lastErr error
	for attempt := 1; attempt <= bucketCASAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			var b limiter.Bucket
			exists := true

			raw, gErr := tx.Get(ctx, key).Result()
			switch {
			case errors.Is(gErr, goredis.Nil):
				exists = false
			case gErr != nil:
				return fmt.Errorf("tenantfair/redis: mutate bucket get: %w", gErr)
			default:
				if uErr := json.Unmarshal([]byte(raw), &b); uErr != nil {
					return fmt.Errorf("tenantfair/redis: mutate bucket decode: %w", uErr)
				}
			}

			next, write := fn(b, exists)
			if !write {
				return nil
			}

			data, mErr := json.Marshal(next)
			if mErr != nil {
				return fmt.Errorf("tenantfair/redis: mutate bucket encode: %w", mErr)
			}

			_, pErr := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return pErr
		}, key)

		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		lastErr = err

		select {
		case <-time.After(s.casBackoff.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("tenantfair/redis: mutate bucket: contention unresolved after %d attempts: %w",
		bucketCASAttempts, lastErr)
}

// GetBucket returns the tenant's bucket state.
func (s *Store) GetBucket(ctx context.Context, tenantID string) (limiter.Bucket, bool, error) {
	raw, err := s.client.Get(ctx, bucketKey(tenantID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return limiter.Bucket{}, false, nil
		}
		return limiter.Bucket{}, false, fmt.Errorf("tenantfair/redis: get bucket: %w", err)
	}

	var b limiter.Bucket
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return limiter.Bucket{}, false, fmt.Errorf("tenantfair/redis: decode bucket: %w", err)
	}
	return b, true, nil
}
