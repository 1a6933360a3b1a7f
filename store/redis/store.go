// Package redis implements store.Store using Redis for multi-replica
// deployments. Queued requests live in per-tier Sorted Sets scored by
// arrival time, token buckets use WATCH-based compare-and-swap, and all
// entities are stored as Redis Hashes.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jabbala/tenantfair/backoff"
	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/governor"
	"github.com/jabbala/tenantfair/limiter"
	"github.com/jabbala/tenantfair/replica"
	"github.com/jabbala/tenantfair/request"
)

// Compile-time interface checks.
var (
	_ request.Store  = (*Store)(nil)
	_ limiter.Store  = (*Store)(nil)
	_ governor.Store = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ replica.Store  = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithQueueCeiling bounds the global queue depth. Zero means unlimited.
func WithQueueCeiling(n int) Option {
	return func(s *Store) { s.queueCeiling = n }
}

// WithCASBackoff sets the delay strategy for bucket compare-and-swap
// retries.
func WithCASBackoff(b backoff.Strategy) Option {
	return func(s *Store) { s.casBackoff = b }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	queueCeiling int
	casBackoff   backoff.Strategy
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		logger:     slog.Default(),
		casBackoff: backoff.DefaultCAS(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
