// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - StoreAdapter: Reads and writes records in one remote store
//   - SyncStateStore: Persists per-link state across passes
//   - PassLock: Guarantees a single writer across processes
//
// # Optional Interfaces
//
// Store adapters may also implement these; the engine degrades gracefully:
//
//   - BatchWriter: Multi-record writes in one call
//   - Archiver / Deleter: Targets for delete propagation
//   - SchemaProvider: Column or key listing for mapping validation
//   - PassHistoryStore: Durable pass reports (nil disables history)
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
