package sheets

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/custodia-labs/bisync/internal/connectors/rest"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/logger"
)

var log = logger.With("sheets")

const (
	// MaxRetries is the maximum number of retries for a read.
	MaxRetries = 3

	// RetryDelay is the initial delay between read retries.
	RetryDelay = time.Second

	valueRender = "UNFORMATTED_VALUE"
	valueInput  = "RAW"
)

// Ensure Store implements the interfaces.
var (
	_ driven.StoreAdapter   = (*Store)(nil)
	_ driven.BatchWriter    = (*Store)(nil)
	_ driven.Archiver       = (*Store)(nil)
	_ driven.Deleter        = (*Store)(nil)
	_ driven.SchemaProvider = (*Store)(nil)
)

// sheet caches the layout of one tab. Writes hold mu so row numbers stay
// valid for the duration of a call.
type sheet struct {
	mu     sync.Mutex
	title  string
	header []string
	idCol  int
	rows   map[string]int // id -> one-based row number
	loaded bool
}

// Store reads and writes rows of a Google spreadsheet. Each entity lives
// in its own sheet; the first row holds column headers and the ID column
// holds a UUID per row.
type Store struct {
	config     *Config
	svc        *sheetsapi.Service
	limiter    *rest.Limiter
	sheets     map[domain.EntityType]*sheet
	newID      func() string
	retryDelay time.Duration

	mu     sync.Mutex
	closed bool
}

// New creates a Sheets store adapter.
func New(ctx context.Context, cfg *Config, opts ...option.ClientOption) (*Store, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	s := &Store{
		config:     cfg,
		svc:        svc,
		limiter:    rest.NewLimiter(cfg.CallsPerMinute),
		sheets:     make(map[domain.EntityType]*sheet, len(cfg.Sheets)),
		newID:      uuid.NewString,
		retryDelay: RetryDelay,
	}
	for entity, title := range cfg.Sheets {
		s.sheets[entity] = &sheet{title: title}
	}
	return s, nil
}

// Build is the driven.StoreBuilder for the "sheets" store type.
func Build(ctx context.Context, sc domain.StoreConfig) (driven.StoreAdapter, error) {
	cfg, err := ParseConfig(sc)
	if err != nil {
		return nil, err
	}
	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts...)
}

func clientOptions(ctx context.Context, cfg *Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading sheets credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parsing sheets credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	return opts, nil
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

// List streams every row of the entity's sheet. Rows without an ID are
// given one, written back before the rows are returned.
func (s *Store) List(ctx context.Context, entity domain.EntityType, _ *time.Time, fn func(domain.NativeRecord) error) error {
	sh, err := s.begin(entity)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	records, err := s.refresh(ctx, sh)
	sh.mu.Unlock()
	if err != nil {
		return fmt.Errorf("listing %s from sheet %s: %w", entity, sh.title, err)
	}

	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Create appends a row.
func (s *Store) Create(ctx context.Context, entity domain.EntityType, patch map[string]any) (*domain.NativeRecord, error) {
	return s.writeOne(ctx, domain.Operation{Kind: domain.OpCreate, Entity: entity, Patch: patch})
}

// Update overwrites the patched cells of a row.
func (s *Store) Update(ctx context.Context, entity domain.EntityType, id string, patch map[string]any) (*domain.NativeRecord, error) {
	return s.writeOne(ctx, domain.Operation{Kind: domain.OpUpdate, Entity: entity, ID: id, Patch: patch})
}

// Archive sets the archive column of a row.
func (s *Store) Archive(ctx context.Context, entity domain.EntityType, id string) (*domain.NativeRecord, error) {
	return s.writeOne(ctx, domain.Operation{Kind: domain.OpArchive, Entity: entity, ID: id})
}

// Delete removes a row.
func (s *Store) Delete(ctx context.Context, entity domain.EntityType, id string) error {
	_, err := s.writeOne(ctx, domain.Operation{Kind: domain.OpDelete, Entity: entity, ID: id})
	return err
}

func (s *Store) writeOne(ctx context.Context, op domain.Operation) (*domain.NativeRecord, error) {
	outcomes, err := s.WriteBatch(ctx, op.Entity, []domain.Operation{op})
	if err != nil {
		return nil, err
	}
	return outcomes[0].Record, outcomes[0].Err
}

// WriteBatch writes operations of a single kind. Operations addressing a
// row that no longer exists fail individually with a 404 RemoteError.
func (s *Store) WriteBatch(ctx context.Context, entity domain.EntityType, ops []domain.Operation) ([]domain.OperationOutcome, error) {
	sh, err := s.begin(entity)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	kind := ops[0].Kind
	for _, op := range ops[1:] {
		if op.Kind != kind {
			return nil, fmt.Errorf("%w: sheets batch mixes %s and %s", domain.ErrInvalidInput, kind, op.Kind)
		}
	}
	if kind == domain.OpArchive && s.config.ArchiveColumn == "" {
		return nil, fmt.Errorf("%w: sheets archive_column is not configured", domain.ErrNotSupported)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.loaded {
		if _, err := s.refresh(ctx, sh); err != nil {
			return nil, err
		}
	}

	outcomes := make([]domain.OperationOutcome, len(ops))
	for i, op := range ops {
		outcomes[i] = domain.OperationOutcome{Op: op, Attempts: 1}
	}

	switch kind {
	case domain.OpCreate:
		err = s.appendRows(ctx, sh, outcomes)
	case domain.OpUpdate, domain.OpArchive:
		err = s.updateRows(ctx, sh, outcomes)
	case domain.OpDelete:
		err = s.deleteRows(ctx, sh, outcomes)
	default:
		err = fmt.Errorf("%w: operation kind %q", domain.ErrInvalidInput, kind)
	}
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Schema returns the sheet's column headers.
func (s *Store) Schema(ctx context.Context, entity domain.EntityType) ([]string, error) {
	sh, err := s.begin(entity)
	if err != nil {
		return nil, err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.loaded {
		if _, err := s.refresh(ctx, sh); err != nil {
			return nil, err
		}
	}

	cols := make([]string, 0, len(sh.header))
	for _, h := range sh.header {
		if h != "" {
			cols = append(cols, h)
		}
	}
	return cols, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) begin(entity domain.EntityType) (*sheet, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, domain.ErrStoreClosed
	}
	sh, ok := s.sheets[entity]
	if !ok {
		return nil, domain.ErrUnsupportedType
	}
	return sh, nil
}

// call runs one API request under the rate limiter.
func (s *Store) call(ctx context.Context, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	err := wrapError(s.config.Name, fn())
	if re, ok := err.(*domain.RemoteError); ok && re.RetryAfter > 0 {
		s.limiter.Pause(re.RetryAfter)
	}
	return err
}

// read runs a read request with retries.
func (s *Store) read(ctx context.Context, fn func() error) error {
	return rest.Retry(ctx, MaxRetries, s.retryDelay, func() error {
		return s.call(ctx, fn)
	})
}

// refresh reads the whole sheet, rebuilds the row index and claims rows
// without an ID. The caller holds sh.mu.
func (s *Store) refresh(ctx context.Context, sh *sheet) ([]domain.NativeRecord, error) {
	var vr *sheetsapi.ValueRange
	err := s.read(ctx, func() error {
		var err error
		vr, err = s.svc.Spreadsheets.Values.Get(s.config.SpreadsheetID, quoteSheet(sh.title)).
			ValueRenderOption(valueRender).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vr.Values) == 0 {
		return nil, fmt.Errorf("%w: sheet %s has no header row", domain.ErrInvalidInput, sh.title)
	}

	header := make([]string, len(vr.Values[0]))
	idCol := -1
	for i, v := range vr.Values[0] {
		header[i] = cellString(v)
		if header[i] == s.config.IDColumn {
			idCol = i
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("%w: sheet %s has no %q column", domain.ErrInvalidInput, sh.title, s.config.IDColumn)
	}

	rows := make(map[string]int, len(vr.Values)-1)
	records := make([]domain.NativeRecord, 0, len(vr.Values)-1)
	var claims []*sheetsapi.ValueRange
	for i, row := range vr.Values[1:] {
		if blank(row) {
			continue
		}
		rowNum := i + 2
		fields := rowFields(header, row)
		id := cellString(fields[s.config.IDColumn])
		if _, dup := rows[id]; id == "" || dup {
			id = s.newID()
			fields[s.config.IDColumn] = id
			claims = append(claims, &sheetsapi.ValueRange{
				Range:  cellRange(sh.title, idCol, rowNum),
				Values: [][]any{{id}},
			})
		}
		rows[id] = rowNum
		records = append(records, domain.NativeRecord{ID: id, Fields: fields})
	}

	if len(claims) > 0 {
		if err := s.writeValues(ctx, claims); err != nil {
			return nil, fmt.Errorf("assigning ids to %d rows: %w", len(claims), err)
		}
		log.Info("assigned ids to %d rows in %s", len(claims), sh.title)
	}

	sh.header = header
	sh.idCol = idCol
	sh.rows = rows
	sh.loaded = true
	return records, nil
}

func (s *Store) writeValues(ctx context.Context, data []*sheetsapi.ValueRange) error {
	req := &sheetsapi.BatchUpdateValuesRequest{ValueInputOption: valueInput, Data: data}
	return s.call(ctx, func() error {
		_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.config.SpreadsheetID, req).Context(ctx).Do()
		return err
	})
}

func (s *Store) appendRows(ctx context.Context, sh *sheet, outcomes []domain.OperationOutcome) error {
	values := make([][]any, len(outcomes))
	written := make([]map[string]any, len(outcomes))
	ids := make([]string, len(outcomes))
	for i, o := range outcomes {
		if err := s.checkColumns(sh, o.Op.Patch); err != nil {
			return err
		}
		ids[i] = s.newID()
		row := make([]any, len(sh.header))
		fields := make(map[string]any, len(sh.header))
		for c, h := range sh.header {
			v := cellValue(o.Op.Patch[h])
			if c == sh.idCol {
				v = ids[i]
			}
			row[c] = v
			if h != "" {
				fields[h] = v
			}
		}
		values[i] = row
		written[i] = fields
	}

	var resp *sheetsapi.AppendValuesResponse
	err := s.call(ctx, func() error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.Append(s.config.SpreadsheetID, quoteSheet(sh.title),
			&sheetsapi.ValueRange{Values: values}).
			ValueInputOption(valueInput).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	first, ok := 0, false
	if resp.Updates != nil {
		first, ok = firstRow(resp.Updates.UpdatedRange)
	}
	if !ok {
		sh.loaded = false
	}
	for i := range outcomes {
		if ok {
			sh.rows[ids[i]] = first + i
		}
		outcomes[i].Record = &domain.NativeRecord{ID: ids[i], Fields: written[i]}
	}
	return nil
}

func (s *Store) updateRows(ctx context.Context, sh *sheet, outcomes []domain.OperationOutcome) error {
	if err := s.locate(ctx, sh, outcomes); err != nil {
		return err
	}

	var data []*sheetsapi.ValueRange
	var touched []int
	for i, o := range outcomes {
		if o.Err != nil {
			continue
		}
		patch := o.Op.Patch
		if o.Op.Kind == domain.OpArchive {
			patch = map[string]any{s.config.ArchiveColumn: true}
		}
		if err := s.checkColumns(sh, patch); err != nil {
			return err
		}
		row := sh.rows[o.Op.ID]
		for c, h := range sh.header {
			if v, ok := patch[h]; ok && c != sh.idCol {
				data = append(data, &sheetsapi.ValueRange{
					Range:  cellRange(sh.title, c, row),
					Values: [][]any{{cellValue(v)}},
				})
			}
		}
		touched = append(touched, i)
	}
	if len(touched) == 0 {
		return nil
	}
	if len(data) > 0 {
		if err := s.writeValues(ctx, data); err != nil {
			return err
		}
	}

	ranges := make([]string, len(touched))
	for j, i := range touched {
		ranges[j] = rowRange(sh.title, sh.rows[outcomes[i].Op.ID], len(sh.header))
	}
	var resp *sheetsapi.BatchGetValuesResponse
	err := s.read(ctx, func() error {
		var err error
		resp, err = s.svc.Spreadsheets.Values.BatchGet(s.config.SpreadsheetID).
			Ranges(ranges...).ValueRenderOption(valueRender).Context(ctx).Do()
		return err
	})
	if err != nil {
		log.Warn("reading back %d rows from %s: %v", len(touched), sh.title, err)
		return nil
	}
	for j, i := range touched {
		if j >= len(resp.ValueRanges) {
			break
		}
		var row []any
		if vals := resp.ValueRanges[j].Values; len(vals) > 0 {
			row = vals[0]
		}
		outcomes[i].Record = &domain.NativeRecord{ID: outcomes[i].Op.ID, Fields: rowFields(sh.header, row)}
	}
	return nil
}

func (s *Store) deleteRows(ctx context.Context, sh *sheet, outcomes []domain.OperationOutcome) error {
	if err := s.locate(ctx, sh, outcomes); err != nil {
		return err
	}

	var rows []int
	for _, o := range outcomes {
		if o.Err == nil {
			rows = append(rows, sh.rows[o.Op.ID])
		}
	}
	if len(rows) == 0 {
		return nil
	}
	// Bottom-up so earlier deletions do not shift later ones.
	sort.Sort(sort.Reverse(sort.IntSlice(rows)))

	sheetID, err := s.sheetID(ctx, sh.title)
	if err != nil {
		return err
	}
	reqs := make([]*sheetsapi.Request, len(rows))
	for i, r := range rows {
		reqs[i] = &sheetsapi.Request{DeleteDimension: &sheetsapi.DeleteDimensionRequest{
			Range: &sheetsapi.DimensionRange{
				SheetId:    sheetID,
				Dimension:  "ROWS",
				StartIndex: int64(r - 1),
				EndIndex:   int64(r),
			},
		}}
	}

	err = s.call(ctx, func() error {
		_, err := s.svc.Spreadsheets.BatchUpdate(s.config.SpreadsheetID,
			&sheetsapi.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
		return err
	})
	sh.loaded = false
	return err
}

// locate ensures every op's row is indexed, reloading the sheet once when
// an ID is unknown. Ops whose row is gone get a 404 error.
func (s *Store) locate(ctx context.Context, sh *sheet, outcomes []domain.OperationOutcome) error {
	reloaded := false
	for i, o := range outcomes {
		if _, ok := sh.rows[o.Op.ID]; ok {
			continue
		}
		if !reloaded {
			if _, err := s.refresh(ctx, sh); err != nil {
				return err
			}
			reloaded = true
			if _, ok := sh.rows[o.Op.ID]; ok {
				continue
			}
		}
		outcomes[i].Err = domain.NewRemoteError(s.config.Name, http.StatusNotFound,
			fmt.Sprintf("row %s not found in %s", o.Op.ID, sh.title))
	}
	return nil
}

func (s *Store) sheetID(ctx context.Context, title string) (int64, error) {
	var ss *sheetsapi.Spreadsheet
	err := s.read(ctx, func() error {
		var err error
		ss, err = s.svc.Spreadsheets.Get(s.config.SpreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("%w: sheet %q", domain.ErrNotFound, title)
}

// checkColumns rejects patches naming columns the sheet lacks.
func (s *Store) checkColumns(sh *sheet, patch map[string]any) error {
	for k := range patch {
		found := false
		for _, h := range sh.header {
			if h == k {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: sheet %s has no column %q", domain.ErrInvalidInput, sh.title, k)
		}
	}
	return nil
}

// rowFields maps a row onto the header. Missing trailing cells read as "".
func rowFields(header []string, row []any) map[string]any {
	fields := make(map[string]any, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		var v any = ""
		if i < len(row) && row[i] != nil {
			v = row[i]
		}
		fields[h] = v
	}
	return fields
}

func blank(row []any) bool {
	for _, v := range row {
		if cellString(v) != "" {
			return false
		}
	}
	return true
}
