package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// Ensure RecordStore implements the interfaces.
var (
	_ driven.StoreAdapter   = (*RecordStore)(nil)
	_ driven.BatchWriter    = (*RecordStore)(nil)
	_ driven.Archiver       = (*RecordStore)(nil)
	_ driven.Deleter        = (*RecordStore)(nil)
	_ driven.SchemaProvider = (*RecordStore)(nil)
)

// RecordStore is an in-memory driven.StoreAdapter. It backs the "memory"
// store type and lets tests inject throttling and failures.
type RecordStore struct {
	name string
	caps driven.StoreCapabilities
	rate driven.RateLimit

	mu      sync.Mutex
	records map[domain.EntityType]map[string]domain.NativeRecord
	schema  map[domain.EntityType][]string
	nextID  int
	now     func() time.Time
	closed  bool

	throttle   int
	retryAfter time.Duration
	failures   map[string]error
	batchErr   error
	calls      int
	writes     []domain.Operation
	batches    int
}

// RecordStoreOption customises a RecordStore.
type RecordStoreOption func(*RecordStore)

// WithCapabilities overrides the default capabilities.
func WithCapabilities(c driven.StoreCapabilities) RecordStoreOption {
	return func(s *RecordStore) { s.caps = c }
}

// WithRateLimit sets the documented call budget.
func WithRateLimit(callsPerMinute int) RecordStoreOption {
	return func(s *RecordStore) { s.rate = driven.RateLimit{CallsPerMinute: callsPerMinute} }
}

// WithStoreClock sets the clock used for ModifiedAt.
func WithStoreClock(now func() time.Time) RecordStoreOption {
	return func(s *RecordStore) { s.now = now }
}

// NewRecordStore creates an empty store.
func NewRecordStore(name string, opts ...RecordStoreOption) *RecordStore {
	s := &RecordStore{
		name: name,
		caps: driven.StoreCapabilities{
			SupportsArchive: true,
			SupportsDelete:  true,
			MaxBatchSize:    1,
		},
		records:  make(map[domain.EntityType]map[string]domain.NativeRecord),
		schema:   make(map[domain.EntityType][]string),
		failures: make(map[string]error),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements driven.StoreAdapter.
func (s *RecordStore) Name() string { return s.name }

// Capabilities implements driven.StoreAdapter.
func (s *RecordStore) Capabilities() driven.StoreCapabilities { return s.caps }

// RateLimit implements driven.StoreAdapter.
func (s *RecordStore) RateLimit() driven.RateLimit { return s.rate }

// Put inserts or replaces a record directly, bypassing failure injection.
// A zero ModifiedAt is stamped with the store clock.
func (s *RecordStore) Put(entity domain.EntityType, rec domain.NativeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ModifiedAt == nil {
		t := s.now()
		rec.ModifiedAt = &t
	}
	s.table(entity)[rec.ID] = cloneRecord(rec)
}

// Get returns a stored record.
func (s *RecordStore) Get(entity domain.EntityType, id string) (domain.NativeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entity][id]
	return cloneRecord(rec), ok
}

// All returns every record of an entity sorted by ID.
func (s *RecordStore) All(entity domain.EntityType) []domain.NativeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(entity)
}

// SetSchema declares the paths Schema reports for an entity.
func (s *RecordStore) SetSchema(entity domain.EntityType, paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema[entity] = append([]string(nil), paths...)
}

// Throttle makes the next n write calls fail with a retryable 429.
func (s *RecordStore) Throttle(n int, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle = n
	s.retryAfter = retryAfter
}

// FailID makes every write to the record id fail with err. An empty id
// fails creates.
func (s *RecordStore) FailID(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = err
}

// FailBatches makes every WriteBatch call fail with err.
func (s *RecordStore) FailBatches(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchErr = err
}

// Calls returns the number of remote calls made, including failed ones.
func (s *RecordStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Writes returns every write operation applied successfully, in order.
func (s *RecordStore) Writes() []domain.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Operation(nil), s.writes...)
}

// Batches returns the number of successful WriteBatch calls.
func (s *RecordStore) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// List implements driven.StoreAdapter.
func (s *RecordStore) List(ctx context.Context, entity domain.EntityType, since *time.Time, fn func(domain.NativeRecord) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrStoreClosed
	}
	s.calls++
	recs := s.sorted(entity)
	s.mu.Unlock()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if since != nil && s.caps.SupportsModifiedSince && rec.ModifiedAt != nil && rec.ModifiedAt.Before(*since) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Create implements driven.StoreAdapter.
func (s *RecordStore) Create(_ context.Context, entity domain.EntityType, patch map[string]any) (*domain.NativeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(""); err != nil {
		return nil, err
	}
	return s.create(entity, patch), nil
}

// Update implements driven.StoreAdapter.
func (s *RecordStore) Update(_ context.Context, entity domain.EntityType, id string, patch map[string]any) (*domain.NativeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(id); err != nil {
		return nil, err
	}
	return s.update(entity, id, patch)
}

// WriteBatch implements driven.BatchWriter.
func (s *RecordStore) WriteBatch(_ context.Context, entity domain.EntityType, ops []domain.Operation) ([]domain.OperationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("-"); err != nil {
		return nil, err
	}
	if s.batchErr != nil {
		return nil, s.batchErr
	}

	out := make([]domain.OperationOutcome, len(ops))
	for i, op := range ops {
		out[i] = domain.OperationOutcome{Op: op, Attempts: 1}
		if err := s.failures[op.ID]; err != nil {
			out[i].Err = err
			continue
		}
		switch op.Kind {
		case domain.OpCreate:
			out[i].Record = s.create(entity, op.Patch)
		case domain.OpUpdate:
			out[i].Record, out[i].Err = s.update(entity, op.ID, op.Patch)
		default:
			out[i].Err = fmt.Errorf("%w: batch %s", domain.ErrNotSupported, op.Kind)
		}
	}
	s.batches++
	return out, nil
}

// Archive implements driven.Archiver by setting status to "archived".
func (s *RecordStore) Archive(_ context.Context, entity domain.EntityType, id string) (*domain.NativeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(id); err != nil {
		return nil, err
	}
	rec, err := s.update(entity, id, map[string]any{"status": "archived"})
	if err == nil {
		s.writes[len(s.writes)-1].Kind = domain.OpArchive
	}
	return rec, err
}

// Delete implements driven.Deleter.
func (s *RecordStore) Delete(_ context.Context, entity domain.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(id); err != nil {
		return err
	}
	if _, ok := s.records[entity][id]; !ok {
		return domain.NewRemoteError(s.name, 404, "record "+id+" not found")
	}
	delete(s.records[entity], id)
	s.writes = append(s.writes, domain.Operation{Kind: domain.OpDelete, Entity: entity, ID: id})
	return nil
}

// Schema implements driven.SchemaProvider. Entities without a declared
// schema report domain.ErrNotSupported.
func (s *RecordStore) Schema(_ context.Context, entity domain.EntityType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths, ok := s.schema[entity]
	if !ok {
		return nil, domain.ErrNotSupported
	}
	return append([]string(nil), paths...), nil
}

// Close implements driven.StoreAdapter.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// begin accounts for a call and applies injected failures. Callers hold mu.
func (s *RecordStore) begin(id string) error {
	if s.closed {
		return domain.ErrStoreClosed
	}
	s.calls++
	if s.throttle > 0 {
		s.throttle--
		re := domain.NewRemoteError(s.name, 429, "too many requests")
		re.RetryAfter = s.retryAfter
		return re
	}
	if err := s.failures[id]; err != nil && id != "-" {
		return err
	}
	return nil
}

func (s *RecordStore) create(entity domain.EntityType, patch map[string]any) *domain.NativeRecord {
	s.nextID++
	now := s.now()
	rec := domain.NativeRecord{
		ID:         s.name + "-" + strconv.Itoa(s.nextID),
		Fields:     mergeFields(nil, patch),
		ModifiedAt: &now,
	}
	s.table(entity)[rec.ID] = rec
	s.writes = append(s.writes, domain.Operation{Kind: domain.OpCreate, Entity: entity, ID: rec.ID, Patch: cloneMap(patch)})
	out := cloneRecord(rec)
	return &out
}

func (s *RecordStore) update(entity domain.EntityType, id string, patch map[string]any) (*domain.NativeRecord, error) {
	rec, ok := s.records[entity][id]
	if !ok {
		return nil, domain.NewRemoteError(s.name, 404, "record "+id+" not found")
	}
	now := s.now()
	rec.Fields = mergeFields(rec.Fields, patch)
	rec.ModifiedAt = &now
	s.table(entity)[id] = rec
	s.writes = append(s.writes, domain.Operation{Kind: domain.OpUpdate, Entity: entity, ID: id, Patch: cloneMap(patch)})
	out := cloneRecord(rec)
	return &out, nil
}

func (s *RecordStore) table(entity domain.EntityType) map[string]domain.NativeRecord {
	t, ok := s.records[entity]
	if !ok {
		t = make(map[string]domain.NativeRecord)
		s.records[entity] = t
	}
	return t
}

func (s *RecordStore) sorted(entity domain.EntityType) []domain.NativeRecord {
	t := s.records[entity]
	out := make([]domain.NativeRecord, 0, len(t))
	for _, rec := range t {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mergeFields deep-merges patch into a copy of base. Nested maps merge;
// slices are merged element-wise so "variants.0.price" patches keep siblings.
func mergeFields(base, patch map[string]any) map[string]any {
	out := cloneMap(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func mergeValue(base, patch any) any {
	switch p := patch.(type) {
	case map[string]any:
		if b, ok := base.(map[string]any); ok {
			return mergeFields(b, p)
		}
		return cloneMap(p)
	case []any:
		b, ok := base.([]any)
		if !ok {
			return cloneValue(p)
		}
		out := make([]any, max(len(b), len(p)))
		for i := range out {
			switch {
			case i < len(p) && i < len(b):
				out[i] = mergeValue(b[i], p[i])
			case i < len(p):
				out[i] = cloneValue(p[i])
			default:
				out[i] = cloneValue(b[i])
			}
		}
		return out
	}
	return patch
}

func cloneRecord(rec domain.NativeRecord) domain.NativeRecord {
	out := rec
	out.Fields = cloneMap(rec.Fields)
	if rec.ModifiedAt != nil {
		t := *rec.ModifiedAt
		out.ModifiedAt = &t
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
