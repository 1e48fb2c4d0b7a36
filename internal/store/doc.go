// Package store provides the SQLite-backed mutation journal.
//
// The journal is an append-only log of document mutations. Each row records
// one mutation a session applied: which document, which kind of edit, the
// target node and port, and the encoded applied and displaced values. A
// document is reconstructed by replaying its rows in seq order against an
// empty network.
//
// # Invariants
//
// Logical time only
//   - All ordering uses seq INTEGER (the session's logical clock), never
//     wall-clock timestamps
//   - Replay is deterministic regardless of when rows were written
//
// Idempotent appends
//   - PRIMARY KEY (doc_id, seq) with ON CONFLICT DO NOTHING
//   - Re-appending a journaled mutation is a no-op and the first row wins
//
// Deterministic query results
//   - Every query orders by seq ASC with doc_id COLLATE BINARY as tiebreaker
//   - All values are parameterized, never interpolated
//
// Opaque payloads
//   - The store never decodes payload or previous columns; the session
//     encodes inputs to JSON and decodes them again on replay
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
