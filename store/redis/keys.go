package redis

import (
	"fmt"

	"github.com/jabbala/tenantfair/tier"
)

// Redis key naming conventions for scheduler data.
// All keys are prefixed with "tenantfair:" to avoid collisions.

const keyPrefix = "tenantfair:"

// ── Request keys ──

// requestKey returns the key for a request entity: tenantfair:request:{id}
func requestKey(id string) string { return keyPrefix + "request:" + id }

// queueKey returns the Sorted Set key for a tier's queue:
// tenantfair:queue:{tier}. Score = arrival time, so ZPopMin is FIFO.
func queueKey(t tier.Tier) string { return keyPrefix + "queue:" + t.String() }

// deadlinesKey is the Sorted Set indexing queued requests by deadline.
// Score = deadline unix seconds; the timeout sweep range-scans it.
const deadlinesKey = keyPrefix + "deadlines"

// ── Limiter keys ──

// bucketKey returns the key for a tenant's token bucket state:
// tenantfair:bucket:{tenant}
func bucketKey(tenantID string) string { return keyPrefix + "bucket:" + tenantID }

// ── Governor usage keys ──

// usageKey returns the per-second dispatch counter for a tenant:
// tenantfair:usage:{tenant}:{unix_sec}
func usageKey(tenantID string, sec int64) string {
	return fmt.Sprintf("%susage:%s:%d", keyPrefix, tenantID, sec)
}

// observedKey returns the per-second Hash of tenant → tier for tenants
// that dispatched in that second: tenantfair:observed:{unix_sec}
func observedKey(sec int64) string {
	return fmt.Sprintf("%sobserved:%d", keyPrefix, sec)
}

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: tenantfair:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set indexing DLQ entries by recorded time
// for newest-first listing.
const dlqIndexKey = keyPrefix + "dlq_idx"

// ── Replica keys ──

// replicaKey returns the key for a replica entity: tenantfair:replica:{id}
func replicaKey(id string) string { return keyPrefix + "replica:" + id }

// replicaIDsKey is the Set tracking all replica IDs for enumeration.
const replicaIDsKey = keyPrefix + "replica_ids"

// leaderKey stores the current leader replica ID with the lease TTL.
const leaderKey = keyPrefix + "leader"
