package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/id"
	"github.com/jabbala/tenantfair/replica"
)

// RegisterReplica adds a new replica to the registry.
func (s *Store) RegisterReplica(ctx context.Context, r *replica.Replica) error {
	rID := r.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, replicaKey(rID), replicaToMap(r))
	pipe.SAdd(ctx, replicaIDsKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantfair/redis: register replica: %w", err)
	}
	return nil
}

// DeregisterReplica removes a replica from the registry. If the replica
// holds the leadership lease, the lease is released.
func (s *Store) DeregisterReplica(ctx context.Context, replicaID id.ReplicaID) error {
	rID := replicaID.String()
	key := replicaKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tenantfair/redis: deregister exists: %w", err)
	}
	if exists == 0 {
		return tenantfair.ErrReplicaNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, replicaIDsKey, rID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantfair/redis: deregister replica: %w", err)
	}

	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("tenantfair/redis: deregister get leader: %w", err)
	}
	if current == rID {
		if dErr := s.client.Del(ctx, leaderKey).Err(); dErr != nil {
			s.logger.Warn("failed to release leadership on deregister", "error", dErr)
		}
	}
	return nil
}

// HeartbeatReplica updates the last-seen timestamp for a replica.
func (s *Store) HeartbeatReplica(ctx context.Context, replicaID id.ReplicaID) error {
	key := replicaKey(replicaID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tenantfair/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return tenantfair.ErrReplicaNotFound
	}

	err = s.client.HSet(ctx, key,
		"last_seen", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("tenantfair/redis: heartbeat replica: %w", err)
	}
	return nil
}

// ListReplicas returns all registered replicas.
func (s *Store) ListReplicas(ctx context.Context) ([]*replica.Replica, error) {
	ids, err := s.client.SMembers(ctx, replicaIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: list replicas: %w", err)
	}

	replicas := make([]*replica.Replica, 0, len(ids))
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, replicaKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToReplica(vals)
		if convErr != nil {
			continue
		}
		replicas = append(replicas, r)
	}
	return replicas, nil
}

// ReapDeadReplicas returns replicas whose last-seen timestamp is older
// than the threshold.
func (s *Store) ReapDeadReplicas(ctx context.Context, threshold time.Duration) ([]*replica.Replica, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, replicaIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: reap smembers: %w", err)
	}

	var dead []*replica.Replica
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, replicaKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToReplica(vals)
		if convErr != nil {
			continue
		}
		if r.LastSeen.Before(cutoff) {
			dead = append(dead, r)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the fleet leader via SET NX with
// the lease TTL.
func (s *Store) AcquireLeadership(ctx context.Context, replicaID id.ReplicaID, ttl time.Duration) (bool, error) {
	rID := replicaID.String()
	rKey := replicaKey(rID)

	exists, err := s.client.Exists(ctx, rKey).Result()
	if err != nil {
		return false, fmt.Errorf("tenantfair/redis: acquire leadership exists: %w", err)
	}
	if exists == 0 {
		return false, tenantfair.ErrReplicaNotFound
	}

	ok, err := s.client.SetNX(ctx, leaderKey, rID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("tenantfair/redis: acquire leadership setnx: %w", err)
	}
	if ok {
		s.markLeader(ctx, rKey, ttl)
		return true, nil
	}

	// Check if we already hold it.
	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("tenantfair/redis: acquire leadership get: %w", err)
	}
	if current == rID {
		// Re-acquire: extend the lease.
		if eErr := s.client.Expire(ctx, leaderKey, ttl).Err(); eErr != nil {
			s.logger.Warn("failed to extend leader lease", "error", eErr)
		}
		s.markLeader(ctx, rKey, ttl)
		return true, nil
	}

	return false, nil
}

// RenewLeadership extends the leader's lease.
func (s *Store) RenewLeadership(ctx context.Context, replicaID id.ReplicaID, ttl time.Duration) (bool, error) {
	rID := replicaID.String()

	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil // lease expired
		}
		return false, fmt.Errorf("tenantfair/redis: renew leadership get: %w", err)
	}
	if current != rID {
		return false, nil // not the leader
	}

	if eErr := s.client.Expire(ctx, leaderKey, ttl).Err(); eErr != nil {
		s.logger.Warn("failed to extend leader lease", "error", eErr)
	}
	s.markLeader(ctx, replicaKey(rID), ttl)
	return true, nil
}

// GetLeader returns the current fleet leader, or nil if the lease is
// vacant.
func (s *Store) GetLeader(ctx context.Context) (*replica.Replica, error) {
	rID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // no leader
		}
		return nil, fmt.Errorf("tenantfair/redis: get leader: %w", err)
	}

	vals, err := s.client.HGetAll(ctx, replicaKey(rID)).Result()
	if err != nil || len(vals) == 0 {
		return nil, nil // lease held but replica record gone
	}
	return mapToReplica(vals)
}

// ── helpers ──

// markLeader updates the replica hash with its leadership fields.
func (s *Store) markLeader(ctx context.Context, rKey string, ttl time.Duration) {
	until := time.Now().UTC().Add(ttl)
	err := s.client.HSet(ctx, rKey,
		"is_leader", "1",
		"leader_until", until.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		s.logger.Warn("failed to update leader fields", "error", err)
	}
}

func replicaToMap(r *replica.Replica) map[string]interface{} {
	m := map[string]interface{}{
		"id":         r.ID.String(),
		"hostname":   r.Hostname,
		"pool_size":  strconv.Itoa(r.PoolSize),
		"state":      string(r.State),
		"is_leader":  boolToStr(r.IsLeader),
		"last_seen":  r.LastSeen.Format(time.RFC3339Nano),
		"metadata":   marshalJSON(r.Metadata),
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
	}
	if r.LeaderUntil != nil {
		m["leader_until"] = r.LeaderUntil.Format(time.RFC3339Nano)
	}
	return m
}

func mapToReplica(m map[string]string) (*replica.Replica, error) {
	rID, err := id.ParseReplicaID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("tenantfair/redis: parse replica id: %w", err)
	}

	poolSize, _ := strconv.Atoi(m["pool_size"])                   //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	r := &replica.Replica{
		ID:        rID,
		Hostname:  m["hostname"],
		PoolSize:  poolSize,
		State:     replica.State(m["state"]),
		IsLeader:  m["is_leader"] == "1",
		LastSeen:  lastSeen,
		Metadata:  unmarshalMap(m["metadata"]),
		CreatedAt: createdAt,
	}

	if v := m["leader_until"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.LeaderUntil = &t
	}
	return r, nil
}

// marshalJSON is a helper to marshal to a JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
