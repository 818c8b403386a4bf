// Package store provides durable storage for connection results.
//
// Two tables back every record:
//   - connection_results: one row per record, granted accesses stored as JSON
//     (lists keep their order)
//   - connection_identities: one row per attached platform identity
//
// # Invariants
//
// Identity uniqueness
//   - UNIQUE(connection_link_id, platform, external_user_id) on identities
//   - The same external user for the same link can never be attached to two
//     records, even under concurrent writers
//
// Optimistic concurrency
//   - Every update is conditioned on the record's version and bumps it
//   - A stale write fails with ErrStaleRecord and changes nothing
//
// Atomic merge
//   - MergeConnections deletes the absorbed record and persists the survivor
//     in one transaction
//
// # Backends
//
// Open picks the backend from the DSN:
//   - postgres:// or postgresql:// opens PostgreSQL through lib/pq
//   - anything else is a SQLite path (":memory:" included)
//
// SQLite is configured with WAL mode, synchronous=NORMAL, a 5 second busy
// timeout and foreign keys on, and is limited to a single connection.
package store
