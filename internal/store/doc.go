// Package store provides SQLite-backed durable storage for scheduler runs.
//
// The store is an append-only log with:
//   - Runs: one row per scenario execution, including the scenario source
//     so the run can be replayed later
//   - Events: the run's trace, one row per event
//
// # Critical Patterns
//
// Logical ordering:
//   - Runs are ordered by seq, events by idx (their position in the trace)
//   - created_at is informational and never used for ordering
//
// Idempotency:
//   - Writes use ON CONFLICT DO NOTHING; writing the same run or event
//     twice is a no-op
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
