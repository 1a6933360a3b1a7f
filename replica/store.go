package replica

import (
	"context"
	"time"

	"github.com/jabbala/tenantfair/id"
)

// Store defines the persistence contract for replica management.
type Store interface {
	// RegisterReplica adds a new replica to the registry.
	RegisterReplica(ctx context.Context, r *Replica) error

	// DeregisterReplica removes a replica from the registry.
	DeregisterReplica(ctx context.Context, replicaID id.ReplicaID) error

	// HeartbeatReplica updates the last-seen timestamp for a replica,
	// indicating it is still alive.
	HeartbeatReplica(ctx context.Context, replicaID id.ReplicaID) error

	// ListReplicas returns all registered replicas.
	ListReplicas(ctx context.Context) ([]*Replica, error)

	// ReapDeadReplicas returns replicas whose last-seen timestamp is
	// older than the given threshold, indicating they may have crashed.
	ReapDeadReplicas(ctx context.Context, threshold time.Duration) ([]*Replica, error)

	// AcquireLeadership attempts to become the fleet leader. Returns
	// true if this replica is now leader. The leadership expires after
	// ttl if not renewed.
	AcquireLeadership(ctx context.Context, replicaID id.ReplicaID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the leader's hold. Must be called before
	// the TTL expires.
	RenewLeadership(ctx context.Context, replicaID id.ReplicaID, ttl time.Duration) (bool, error)

	// GetLeader returns the current fleet leader, or nil if there is no
	// leader.
	GetLeader(ctx context.Context) (*Replica, error)
}
