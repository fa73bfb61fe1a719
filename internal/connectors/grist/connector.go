package grist

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/logger"
)

var log = logger.With("grist")

// Ensure Store implements the interfaces.
var (
	_ driven.StoreAdapter   = (*Store)(nil)
	_ driven.BatchWriter    = (*Store)(nil)
	_ driven.Archiver       = (*Store)(nil)
	_ driven.Deleter        = (*Store)(nil)
	_ driven.SchemaProvider = (*Store)(nil)
)

// gristRecord is the wire shape of a row.
type gristRecord struct {
	ID     json.Number    `json:"id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

type recordsBody struct {
	Records []gristRecord `json:"records"`
}

// Store reads and writes rows of a Grist document. Each entity lives in
// its own table.
type Store struct {
	config *Config
	client *Client
	mu     sync.Mutex
	closed bool
}

// New creates a Grist store adapter.
func New(ctx context.Context, cfg *Config, httpClient *http.Client) *Store {
	return &Store{
		config: cfg,
		client: NewClient(ctx, cfg, httpClient),
	}
}

// Build is the driven.StoreBuilder for the "grist" store type.
func Build(ctx context.Context, sc domain.StoreConfig) (driven.StoreAdapter, error) {
	cfg, err := ParseConfig(sc)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, nil), nil
}

// Name returns the configured store name.
func (s *Store) Name() string {
	return s.config.Name
}

// Capabilities returns the adapter's capabilities.
func (s *Store) Capabilities() driven.StoreCapabilities {
	return driven.StoreCapabilities{
		SupportsArchive: s.config.ArchiveColumn != "",
		SupportsDelete:  true,
		MaxBatchSize:    s.config.BatchSize,
	}
}

// RateLimit returns the configured call budget.
func (s *Store) RateLimit() driven.RateLimit {
	return driven.RateLimit{CallsPerMinute: s.config.CallsPerMinute}
}

// List streams every row of the entity's table. Grist has no server-side
// modification filter, so since is ignored.
func (s *Store) List(ctx context.Context, entity domain.EntityType, _ *time.Time, fn func(domain.NativeRecord) error) error {
	table, err := s.begin(entity)
	if err != nil {
		return err
	}

	var body recordsBody
	if err := s.client.get(ctx, s.client.tableURL(table, "records", nil), &body); err != nil {
		return fmt.Errorf("listing %s from table %s: %w", entity, table, err)
	}
	log.Debug("listed %d rows from %s", len(body.Records), table)

	for _, r := range body.Records {
		if err := fn(s.toNative(r)); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a row.
func (s *Store) Create(ctx context.Context, entity domain.EntityType, patch map[string]any) (*domain.NativeRecord, error) {
	outcomes, err := s.WriteBatch(ctx, entity, []domain.Operation{{Kind: domain.OpCreate, Entity: entity, Patch: patch}})
	if err != nil {
		return nil, err
	}
	return outcomes[0].Record, outcomes[0].Err
}

// Update patches a row.
func (s *Store) Update(ctx context.Context, entity domain.EntityType, id string, patch map[string]any) (*domain.NativeRecord, error) {
	outcomes, err := s.WriteBatch(ctx, entity, []domain.Operation{{Kind: domain.OpUpdate, Entity: entity, ID: id, Patch: patch}})
	if err != nil {
		return nil, err
	}
	return outcomes[0].Record, outcomes[0].Err
}

// WriteBatch writes operations of a single kind in one call, then reads
// the written rows back so outcomes carry the stored values.
func (s *Store) WriteBatch(ctx context.Context, entity domain.EntityType, ops []domain.Operation) ([]domain.OperationOutcome, error) {
	table, err := s.begin(entity)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	kind := ops[0].Kind
	for _, op := range ops[1:] {
		if op.Kind != kind {
			return nil, fmt.Errorf("%w: grist batch mixes %s and %s", domain.ErrInvalidInput, kind, op.Kind)
		}
	}

	var ids []string
	switch kind {
	case domain.OpCreate:
		ids, err = s.create(ctx, table, ops)
	case domain.OpUpdate:
		ids, err = s.update(ctx, table, ops, nil)
	case domain.OpArchive:
		if s.config.ArchiveColumn == "" {
			return nil, fmt.Errorf("%w: grist archive_column is not configured", domain.ErrNotSupported)
		}
		ids, err = s.update(ctx, table, ops, map[string]any{s.config.ArchiveColumn: true})
	case domain.OpDelete:
		ids, err = s.remove(ctx, table, ops)
	default:
		return nil, fmt.Errorf("%w: operation kind %q", domain.ErrInvalidInput, kind)
	}
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.OperationOutcome, len(ops))
	for i, op := range ops {
		outcomes[i] = domain.OperationOutcome{Op: op, Attempts: 1}
	}
	if kind == domain.OpDelete {
		return outcomes, nil
	}

	stored, err := s.fetch(ctx, table, ids)
	if err != nil {
		log.Warn("reading back %d rows from %s: %v", len(ids), table, err)
	}
	for i, id := range ids {
		switch rec, ok := stored[id]; {
		case ok:
			outcomes[i].Record = &rec
		case kind == domain.OpCreate:
			// A create's patch is the whole row.
			outcomes[i].Record = &domain.NativeRecord{ID: id, Fields: ops[i].Patch}
		}
	}
	return outcomes, nil
}

// Archive sets the archive column on a row.
func (s *Store) Archive(ctx context.Context, entity domain.EntityType, id string) (*domain.NativeRecord, error) {
	outcomes, err := s.WriteBatch(ctx, entity, []domain.Operation{{Kind: domain.OpArchive, Entity: entity, ID: id}})
	if err != nil {
		return nil, err
	}
	return outcomes[0].Record, nil
}

// Delete removes a row.
func (s *Store) Delete(ctx context.Context, entity domain.EntityType, id string) error {
	_, err := s.WriteBatch(ctx, entity, []domain.Operation{{Kind: domain.OpDelete, Entity: entity, ID: id}})
	return err
}

// Schema returns the table's column IDs plus "id".
func (s *Store) Schema(ctx context.Context, entity domain.EntityType) ([]string, error) {
	table, err := s.begin(entity)
	if err != nil {
		return nil, err
	}

	var body struct {
		Columns []struct {
			ID string `json:"id"`
		} `json:"columns"`
	}
	if err := s.client.get(ctx, s.client.tableURL(table, "columns", nil), &body); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}

	cols := make([]string, 0, len(body.Columns)+1)
	cols = append(cols, "id")
	for _, c := range body.Columns {
		cols = append(cols, c.ID)
	}
	return cols, nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.http.CloseIdleConnections()
	return nil
}

func (s *Store) begin(entity domain.EntityType) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", domain.ErrStoreClosed
	}
	return s.config.table(entity)
}

func (s *Store) create(ctx context.Context, table string, ops []domain.Operation) ([]string, error) {
	req := recordsBody{Records: make([]gristRecord, len(ops))}
	for i, op := range ops {
		req.Records[i] = gristRecord{Fields: op.Patch}
		if req.Records[i].Fields == nil {
			req.Records[i].Fields = map[string]any{}
		}
	}

	var resp recordsBody
	if err := s.client.Do(ctx, http.MethodPost, s.client.tableURL(table, "records", nil), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Records) != len(ops) {
		return nil, fmt.Errorf("grist returned %d ids for %d new rows", len(resp.Records), len(ops))
	}

	ids := make([]string, len(resp.Records))
	for i, r := range resp.Records {
		ids[i] = r.ID.String()
	}
	return ids, nil
}

// update patches rows; set, when non-nil, replaces every op's patch.
func (s *Store) update(ctx context.Context, table string, ops []domain.Operation, set map[string]any) ([]string, error) {
	req := recordsBody{Records: make([]gristRecord, len(ops))}
	ids := make([]string, len(ops))
	for i, op := range ops {
		id, err := rowID(op.ID)
		if err != nil {
			return nil, err
		}
		fields := op.Patch
		if set != nil {
			fields = set
		}
		req.Records[i] = gristRecord{ID: id, Fields: fields}
		ids[i] = op.ID
	}

	if err := s.client.Do(ctx, http.MethodPatch, s.client.tableURL(table, "records", nil), req, nil); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) remove(ctx context.Context, table string, ops []domain.Operation) ([]string, error) {
	rows := make([]json.Number, len(ops))
	ids := make([]string, len(ops))
	for i, op := range ops {
		id, err := rowID(op.ID)
		if err != nil {
			return nil, err
		}
		rows[i] = id
		ids[i] = op.ID
	}

	if err := s.client.Do(ctx, http.MethodPost, s.client.tableURL(table, "data/delete", nil), rows, nil); err != nil {
		return nil, err
	}
	return ids, nil
}

// fetch reads rows by ID.
func (s *Store) fetch(ctx context.Context, table string, ids []string) (map[string]domain.NativeRecord, error) {
	rows := make([]json.Number, 0, len(ids))
	for _, id := range ids {
		if n, err := rowID(id); err == nil {
			rows = append(rows, n)
		}
	}
	filter, err := json.Marshal(map[string][]json.Number{"id": rows})
	if err != nil {
		return nil, err
	}

	var body recordsBody
	q := url.Values{"filter": {string(filter)}}
	if err := s.client.get(ctx, s.client.tableURL(table, "records", q), &body); err != nil {
		return nil, err
	}

	out := make(map[string]domain.NativeRecord, len(body.Records))
	for _, r := range body.Records {
		rec := s.toNative(r)
		out[rec.ID] = rec
	}
	return out, nil
}

func (s *Store) toNative(r gristRecord) domain.NativeRecord {
	fields := r.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	rec := domain.NativeRecord{ID: r.ID.String(), Fields: fields}
	if s.config.ModifiedColumn != "" {
		if t, ok := epochTime(fields[s.config.ModifiedColumn]); ok {
			rec.ModifiedAt = &t
		}
	}
	return rec
}

// epochTime reads a Grist DateTime cell, stored as seconds since the epoch.
func epochTime(v any) (time.Time, bool) {
	var secs float64
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case float64:
		secs = n
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), true
}

// rowID validates a Grist row ID, which is always a positive integer.
func rowID(id string) (json.Number, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: grist row id %q", domain.ErrInvalidInput, id)
	}
	return json.Number(id), nil
}
