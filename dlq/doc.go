// Package dlq provides the dead letter queue for requests that expired
// in the queue before any worker could claim them. It supports
// inspection, replay, and purging.
//
// When the timeout sweep finds a queued request past its deadline, the
// request is resolved as timed out and [Service.Push] records it here.
// The original payload, tier, and timing are preserved for debugging.
//
// # Entry
//
// A [Entry] captures:
//   - RequestID / TenantID / Tier: original request identity
//   - Payload: the opaque payload at time of expiry
//   - Reason: why the request landed here (normally "timed_out")
//   - ArrivalAt / DeadlineAt: the queue residency that was exceeded
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Replay
//
// Replay is operator-driven only; nothing re-enqueues expired requests
// automatically. Replaying builds a fresh request with a new ID, a new
// arrival time, and a fresh deadline of the same length the original
// had, then enqueues it through the normal path. Replay sets ReplayedAt
// on the DLQ entry and is rejected for entries already replayed.
//
// # Admin API
//
// The DLQ is exposed via the HTTP admin API:
//   - GET  /v1/dlq                 — list entries
//   - GET  /v1/dlq/:entryId        — get a single entry
//   - POST /v1/dlq/:entryId/replay — replay one entry
//   - POST /v1/dlq/purge           — purge old entries
//   - GET  /v1/dlq/count           — entry count
package dlq
