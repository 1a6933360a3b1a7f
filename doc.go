// Package tenantfair provides a tenant-fair request scheduler and
// backpressure engine for multi-tenant serving platforms. It sits between
// an API edge and a downstream execution pipeline (retrieval, LLM
// invocation) and decides, for every inbound request, whether it is
// admitted, how long it may queue, and when it is dispatched.
//
// Tenantfair is designed as a library, not a service. Import it, configure
// a store, hand it a Pipeline, and call Submit.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(redisStore),
//	    engine.WithPipeline(ragPipeline),
//	)
//
// # Architecture
//
// Scheduling is split into independent components: a per-tenant token
// bucket limiter gates admission, a tier-ordered priority queue holds
// admitted work, a fair-share allocator grants per-tier dequeue credits
// every tick, a fixed-size worker pool dispatches within those credits,
// a noisy-neighbor governor throttles tenants that dominate their tier,
// and a dead-letter handler expires requests that out-wait their
// deadline. Replicas coordinate only through the shared store — there
// are no cross-process locks.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package tenantfair
