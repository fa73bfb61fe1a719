package driven

import (
	"context"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// SyncStateStore persists per-link sync state across passes.
// Reads may run concurrently; exactly one pass commits at a time.
type SyncStateStore interface {
	// Load returns a snapshot of every entry.
	Load(ctx context.Context) (map[domain.LinkRef]domain.SyncStateEntry, error)

	// Commit upserts entries atomically: either every entry is written or none.
	Commit(ctx context.Context, entries []domain.SyncStateEntry) error

	// Delete removes entries. Used only by orphan pruning.
	Delete(ctx context.Context, refs []domain.LinkRef) error

	// Cursor returns the incremental fetch cursor, or nil if none was saved.
	Cursor(ctx context.Context, entity domain.EntityType, side domain.Side) (*domain.SyncCursor, error)

	// SaveCursor stores an incremental fetch cursor.
	SaveCursor(ctx context.Context, cursor domain.SyncCursor) error
}

// PassHistoryStore keeps reports of completed passes.
type PassHistoryStore interface {
	// RecordPass stores a pass result.
	RecordPass(ctx context.Context, result *domain.SyncResult) error

	// ListPasses returns recent results, most recent first.
	ListPasses(ctx context.Context, limit int) ([]domain.SyncResult, error)

	// PruneHistory keeps the most recent keep results.
	PruneHistory(ctx context.Context, keep int) error
}

// PassLock serialises passes across processes.
type PassLock interface {
	// Acquire blocks until the lock is held or ctx ends. With wait false it
	// returns domain.ErrPassInProgress immediately when the lock is taken.
	Acquire(ctx context.Context, wait bool) error

	// Release frees the lock.
	Release() error
}
