package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// Ensure SyncStateStore implements the interfaces.
var (
	_ driven.SyncStateStore   = (*SyncStateStore)(nil)
	_ driven.PassHistoryStore = (*SyncStateStore)(nil)
)

type cursorKey struct {
	entity domain.EntityType
	side   domain.Side
}

// SyncStateStore is an in-memory implementation of driven.SyncStateStore
// and driven.PassHistoryStore.
type SyncStateStore struct {
	mu      sync.RWMutex
	entries map[domain.LinkRef]domain.SyncStateEntry
	cursors map[cursorKey]domain.SyncCursor
	passes  []domain.SyncResult

	// CommitErr, when set, fails every Commit without writing.
	CommitErr error
	commits   int
}

// NewSyncStateStore creates a new in-memory sync state store.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{
		entries: make(map[domain.LinkRef]domain.SyncStateEntry),
		cursors: make(map[cursorKey]domain.SyncCursor),
	}
}

// Load returns a copy of every entry.
func (s *SyncStateStore) Load(_ context.Context) (map[domain.LinkRef]domain.SyncStateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.LinkRef]domain.SyncStateEntry, len(s.entries))
	for ref, e := range s.entries {
		out[ref] = cloneEntry(e)
	}
	return out, nil
}

// Commit upserts entries. Either all are stored or, on CommitErr, none.
func (s *SyncStateStore) Commit(_ context.Context, entries []domain.SyncStateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	for _, e := range entries {
		s.entries[e.Ref()] = cloneEntry(e)
	}
	s.commits++
	return nil
}

// Delete removes entries.
func (s *SyncStateStore) Delete(_ context.Context, refs []domain.LinkRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		delete(s.entries, ref)
	}
	return nil
}

// Cursor returns the cursor for an entity and side, or nil.
func (s *SyncStateStore) Cursor(_ context.Context, entity domain.EntityType, side domain.Side) (*domain.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[cursorKey{entity, side}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// SaveCursor stores a cursor.
func (s *SyncStateStore) SaveCursor(_ context.Context, cursor domain.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursorKey{cursor.Entity, cursor.Side}] = cursor
	return nil
}

// Entry returns one entry by entity and link key.
func (s *SyncStateStore) Entry(entity domain.EntityType, key string) (domain.SyncStateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[domain.LinkRef{Entity: entity, Key: key}]
	return cloneEntry(e), ok
}

// Len returns the number of entries.
func (s *SyncStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Commits returns the number of successful Commit calls.
func (s *SyncStateStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// RecordPass stores a pass result.
func (s *SyncStateStore) RecordPass(_ context.Context, result *domain.SyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes = append(s.passes, *result)
	return nil
}

// ListPasses returns recent results, most recent first.
func (s *SyncStateStore) ListPasses(_ context.Context, limit int) ([]domain.SyncResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SyncResult, len(s.passes))
	copy(out, s.passes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneHistory keeps the most recent keep results.
func (s *SyncStateStore) PruneHistory(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep >= 0 && len(s.passes) > keep {
		s.passes = s.passes[len(s.passes)-keep:]
	}
	return nil
}

func cloneEntry(e domain.SyncStateEntry) domain.SyncStateEntry {
	out := e
	out.ExternalIDs = maps.Clone(e.ExternalIDs)
	out.LastFingerprintBySide = maps.Clone(e.LastFingerprintBySide)
	if e.LastFieldsBySide != nil {
		out.LastFieldsBySide = make(map[domain.Side]map[string]any, len(e.LastFieldsBySide))
		for side, f := range e.LastFieldsBySide {
			out.LastFieldsBySide[side] = maps.Clone(f)
		}
	}
	return out
}
