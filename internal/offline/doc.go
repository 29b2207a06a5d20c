// Package offline provides local-first durability for mutations the console
// cannot confirm while disconnected.
//
// # Architecture
//
// Two blobs live in an injectable Blobstore under well-known keys:
//
//   - offline:action_queue — FIFO of QueuedActions awaiting replay
//   - offline:snapshot — last known good copy of server-owned domain data
//
// The Manager is the single writer to both. Drain replays the queue strictly
// in insertion order, one action at a time, so create/update/delete against
// the same resource cannot be reordered. A drain triggered while one is
// running is a no-op (ErrDrainInProgress), as is a drain while offline
// (ErrOffline).
//
// # Retry policy
//
// Each failed replay increments the action's RetryCount. An action whose
// count reaches the configured cap (default 3) is removed from the queue and
// reported as a terminal failure; it never reappears in persisted state.
// There is no backoff between drain passes — each pass is one attempt per
// surviving item.
//
// # Fault tolerance
//
// Storage faults (missing keys, corrupted JSON, write errors) are logged and
// degrade to empty defaults rather than propagating; losing the local cache
// costs convenience, not correctness.
//
// # Testing
//
// Use NewMemoryStore for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package offline
