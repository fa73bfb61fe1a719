package driving

import (
	"context"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// SyncEngine drives sync passes between the two stores.
type SyncEngine interface {
	// RunPass executes one full pass and returns its report.
	// The error is non-nil only when the whole pass aborted; per-record
	// failures are reported in the result.
	RunPass(ctx context.Context) (*domain.SyncResult, error)

	// Plan runs fetch, detection and resolution without writing or committing.
	Plan(ctx context.Context) (*domain.SyncResult, error)

	// Status returns the state of the running pass, if any.
	Status(ctx context.Context) (*SyncStatus, error)
}

// SyncStatus represents the current state of a pass.
type SyncStatus struct {
	// PassID identifies the running pass; empty when idle.
	PassID string

	// State is the current step of the pass state machine.
	State domain.PassState

	// Running indicates if a pass is currently in progress.
	Running bool

	// RecordsProcessed is the count of decisions handled so far.
	RecordsProcessed int

	// ErrorCount is the number of per-record failures so far.
	ErrorCount int
}
