// Package sqlite provides the durable implementation of the sync state ports.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements two store interfaces
// through a single database connection:
//
//   - SyncStateStore: per-link fingerprints and snapshots, plus incremental cursors
//   - PassHistoryStore: reports of completed passes
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.bisync/state.db. The [state] dir
// setting moves it, together with the pass lock file.
//
// # Atomicity
//
// Commit writes every entry of a pass in one transaction, so an interrupted
// commit leaves the previous state intact. WAL mode lets status and history
// read while a pass is committing.
package sqlite
