// Package bunstore implements dlq.Store on PostgreSQL via the Bun ORM.
//
// It is a durable archive for dead letter entries, not a full store
// backend: the queue, buckets, and usage windows stay in Redis (or
// memory), while expired requests land here for long-term inspection,
// replay bookkeeping, and compliance retention that outlives Redis
// eviction.
//
// Usage:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	archive := bunstore.New(db)
//	if err := archive.Migrate(ctx); err != nil { ... }
package bunstore
