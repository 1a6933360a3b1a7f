package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jabbala/tenantfair/tier"
)

// usageTTL is how long per-second usage counters live. The governor's
// window is minutes; an hour leaves generous slack for operators
// inspecting raw counters.
const usageTTL = time.Hour

// RecordDispatch counts one dispatch in the tenant's per-second counter
// and marks the tenant observed for that second.
func (s *Store) RecordDispatch(ctx context.Context, tenantID string, t tier.Tier, at time.Time) error {
	sec := at.Unix()
	uk := usageKey(tenantID, sec)
	obs := observedKey(sec)

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, uk)
	pipe.Expire(ctx, uk, usageTTL)
	pipe.HSet(ctx, obs, tenantID, t.String())
	pipe.Expire(ctx, obs, usageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantfair/redis: record dispatch: %w", err)
	}
	return nil
}

// ConsumptionWindow sums the tenant's per-second counters over
// [from, to). Counters are second-granular; sub-second window bounds
// round outward to whole seconds.
func (s *Store) ConsumptionWindow(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	keys := secondKeys(from, to, func(sec int64) string { return usageKey(tenantID, sec) })
	if len(keys) == 0 {
		return 0, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("tenantfair/redis: consumption window: %w", err)
	}

	total := 0
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // nil for seconds with no dispatches
		}
		n, _ := strconv.Atoi(raw) //nolint:errcheck // best-effort parse from trusted Redis data
		total += n
	}
	return total, nil
}

// ObservedTenants merges the per-second observation hashes over
// [from, to) into one tenant → tier map.
func (s *Store) ObservedTenants(ctx context.Context, from, to time.Time) (map[string]tier.Tier, error) {
	out := make(map[string]tier.Tier)
	for _, key := range secondKeys(from, to, observedKey) {
		vals, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("tenantfair/redis: observed tenants: %w", err)
		}
		for tenantID, tierName := range vals {
			t, pErr := tier.Parse(tierName)
			if pErr != nil {
				continue
			}
			out[tenantID] = t
		}
	}
	return out, nil
}

// secondKeys enumerates the per-second keys covering [from, to).
func secondKeys(from, to time.Time, keyFn func(sec int64) string) []string {
	first := from.Unix()
	last := to.Unix()
	if to.Nanosecond() > 0 {
		last++ // partial trailing second still holds samples before `to`
	}
	if last <= first {
		return nil
	}

	keys := make([]string, 0, last-first)
	for sec := first; sec < last; sec++ {
		keys = append(keys, keyFn(sec))
	}
	return keys
}
