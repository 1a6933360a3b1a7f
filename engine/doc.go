// Package engine wires the scheduler subsystems — limiter, queue,
// allocator, worker pool, governor, and DLQ — into a single runnable
// unit and provides the application-facing Submit/Cancel/Stats API.
//
// The engine package exists to break an import cycle: the root
// tenantfair package defines the errors and configuration imported by
// every subsystem, and therefore cannot import those subsystems back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an engine
//
//	eng, err := engine.New(
//	    engine.WithStore(redisStore),
//	    engine.WithPipeline(ragPipeline),
//	    engine.WithConfig(cfg),
//	)
//
// # Submitting work
//
//	pending, err := eng.Submit(ctx, engine.SubmitOpts{
//	    TenantID: "acme",
//	    Tier:     tier.Enterprise,
//	    Payload:  prompt,
//	})
//	if err != nil {
//	    // rejected at admission: rate limited or queue full
//	}
//	result, err := pending.Wait(ctx)
//
// Submit resolves each request exactly once: with the pipeline result,
// with ErrQueueTimeout if it expired in the queue, or with ErrCancelled
// if the caller withdrew it.
package engine
