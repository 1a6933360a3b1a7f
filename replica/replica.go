// Package replica tracks scheduler instances sharing one global queue.
// Every replica registers itself and heartbeats; leadership — acquired
// through a TTL lease in the shared store — gates the singleton loops
// (the governor scan and the timeout sweep) so they run exactly once
// across the fleet.
package replica

import (
	"time"

	"github.com/jabbala/tenantfair/id"
)

// State represents the lifecycle state of a replica.
type State string

const (
	// Active means the replica is healthy and dispatching requests.
	Active State = "active"
	// Draining means the replica is finishing in-flight requests but
	// not claiming new ones (graceful shutdown).
	Draining State = "draining"
	// Dead means the replica has stopped heartbeating and its claimed
	// requests should be requeued.
	Dead State = "dead"
)

// Replica represents one scheduler instance in a distributed deployment.
type Replica struct {
	ID          id.ReplicaID      `json:"id"`
	Hostname    string            `json:"hostname"`
	PoolSize    int               `json:"pool_size"`
	State       State             `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
