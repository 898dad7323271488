// Package store provides the SQLite-backed local store for liftsync.
//
// The store is the only shared mutable resource of the sync engine. It holds:
//   - Entity mirrors: one table per entity kind (method_instances,
//     workout_templates, workout_sessions), at most one row per id
//   - Outbox: durable queue of local mutations the remote has not acknowledged
//   - Sync cursors: per (owner_id, entity_kind) pull watermark
//   - Meta: the schema version scalar
//
// # Atomicity
//
// Every local write mutates the entity table and appends its outbox entry in
// one transaction. Either both land or neither does. Cursor advances, outbox
// completions and owner data clearing are single transactions as well.
//
// # Ordering
//
// Outbox entries are ordered by their INTEGER AUTOINCREMENT id, which is
// insertion order. Timestamps are fixed-width ISO-8601 strings so lexical
// comparison in SQL matches chronological order.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: a committed local write survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite has one writer; transactions serialize
//
// A lock file next to the database (<path>.lock) ensures a single process
// owns the store. Within a process, use an Opener to coalesce concurrent
// opens of the same path so migrations run at most once.
package store
