// Package store provides SQLite-backed durable storage for engine runs.
//
// The store is an append-only history plus resumable snapshots:
//   - Runs: one row per engine run, pinned to a program hash
//   - Ticks, updates, transitions: everything a TickReport carried
//   - Dispatches: every step that became active, keyed by step run id
//   - Task outcomes: how each task run finished
//   - Snapshots: canonical JSON engine snapshots with a content hash
//
// *Store implements engine.Recorder, so an engine created with
// engine.WithRecorder writes its history here as it ticks.
//
// # Ordering
//
// Ordering uses seq (the engine's logical clock), never timestamps. Every
// read orders by seq first and breaks ties by a stable secondary key
// with COLLATE BINARY, so replays return identical results.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING. Recording the same tick twice is a
// no-op, which makes retrying after a crash safe.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
