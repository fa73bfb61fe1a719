// Package domain defines the core entities of the bisync engine.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - CanonicalRecord: A platform-neutral record built from a store's native payload
//   - SyncStateEntry: The persisted state of one link between the two stores
//   - FieldMapping: How one canonical field maps onto each store
//   - ChangeDecision: The detector's verdict for a record
//   - SyncResult: The report of one pass
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
