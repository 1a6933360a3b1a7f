package store

import (
	"context"

	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/governor"
	"github.com/jabbala/tenantfair/limiter"
	"github.com/jabbala/tenantfair/replica"
	"github.com/jabbala/tenantfair/request"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend (memory, redis) implements
// all of them. All replicas of one deployment must point at the same
// backend — the queue, buckets, and consumption windows are the shared
// state fairness is computed over.
type Store interface {
	request.Store
	limiter.Store
	governor.Store
	dlq.Store
	replica.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
