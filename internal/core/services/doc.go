// Package services implements the driving port interfaces.
//
// A sync pass flows through the components in this package in order:
//
//   - FieldMapper converts native records to canonical records and back
//   - Linker pairs records across stores (stored links first, then natural keys)
//   - ChangeDetector classifies each pair against the last committed state
//   - ConflictResolver merges changed links field by field
//   - BatchExecutor writes under each store's rate budget with retries
//
// Engine owns the pass state machine and the commit; Scheduler repeats
// passes in continuous mode.
//
// Services depend only on domain and the port interfaces. No CGO.
package services
