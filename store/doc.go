// Package store defines the aggregate persistence interface.
//
// Each subsystem (request, limiter, governor, dlq, replica) defines its
// own store interface. The composite [Store] composes them all. A single
// backend need only implement Store to satisfy every subsystem's
// persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    request.Store
//	    limiter.Store
//	    governor.Store
//	    dlq.Store
//	    replica.Store
//
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for single-process deployments and testing
//   - store/redis — Redis backend for multi-replica deployments
//   - store/bun — Bun ORM Postgres archive for DLQ entries (dlq.Store only)
//
// # Usage
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.New(cfg, engine.WithStore(s))
package store
