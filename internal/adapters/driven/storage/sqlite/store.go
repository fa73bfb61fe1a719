package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/bisync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// DBFile is the database file name inside the state directory.
const DBFile = "state.db"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed store that provides the sync state and pass
// history interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store in the given state directory.
// If dir is empty, defaults to ~/.bisync.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".bisync")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFile)

	// WAL lets status and history read while a pass commits.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SyncStateStore returns a SyncStateStore interface backed by this store.
func (s *Store) SyncStateStore() driven.SyncStateStore {
	return &syncStateStore{store: s}
}

// PassHistoryStore returns a PassHistoryStore interface backed by this store.
func (s *Store) PassHistoryStore() driven.PassHistoryStore {
	return &passHistoryStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Sync State Store ====================

// syncStateStore implements driven.SyncStateStore.
type syncStateStore struct {
	store *Store
}

var _ driven.SyncStateStore = (*syncStateStore)(nil)

// Load returns every persisted entry.
func (s *syncStateStore) Load(ctx context.Context) (map[domain.LinkRef]domain.SyncStateEntry, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT entity, link_key, source_id, target_id,
		       source_fingerprint, target_fingerprint,
		       source_fields, target_fields, last_synced_at
		FROM sync_state
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sync state: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.LinkRef]domain.SyncStateEntry)
	for rows.Next() {
		entry, err := scanSyncStateEntry(rows)
		if err != nil {
			return nil, err
		}
		out[entry.Ref()] = *entry
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync state: %w", err)
	}

	return out, nil
}

// Commit upserts entries in a single transaction.
func (s *syncStateStore) Commit(ctx context.Context, entries []domain.SyncStateEntry) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_state (entity, link_key, source_id, target_id,
		                        source_fingerprint, target_fingerprint,
		                        source_fields, target_fields, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity, link_key) DO UPDATE SET
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			source_fingerprint = excluded.source_fingerprint,
			target_fingerprint = excluded.target_fingerprint,
			source_fields = excluded.source_fields,
			target_fields = excluded.target_fields,
			last_synced_at = excluded.last_synced_at
	`)
	if err != nil {
		return fmt.Errorf("preparing commit: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		if e.LinkKey == "" {
			return fmt.Errorf("%w: entry without link key", domain.ErrInvalidInput)
		}
		srcFields, err := marshalFields(e.Snapshot(domain.SideSource))
		if err != nil {
			return fmt.Errorf("marshalling source snapshot for %s: %w", e.LinkKey, err)
		}
		tgtFields, err := marshalFields(e.Snapshot(domain.SideTarget))
		if err != nil {
			return fmt.Errorf("marshalling target snapshot for %s: %w", e.LinkKey, err)
		}

		_, err = stmt.ExecContext(ctx,
			string(e.EntityType),
			e.LinkKey,
			e.ExternalIDs[domain.SideSource],
			e.ExternalIDs[domain.SideTarget],
			e.Fingerprint(domain.SideSource),
			e.Fingerprint(domain.SideTarget),
			srcFields,
			tgtFields,
			formatTime(e.LastSyncedAt),
		)
		if err != nil {
			return fmt.Errorf("saving sync state %s/%s: %w", e.EntityType, e.LinkKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sync state: %w", err)
	}
	return nil
}

// Delete removes entries in a single transaction.
func (s *syncStateStore) Delete(ctx context.Context, refs []domain.LinkRef) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for _, ref := range refs {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM sync_state WHERE entity = ? AND link_key = ?",
			string(ref.Entity), ref.Key)
		if err != nil {
			return fmt.Errorf("deleting sync state %s/%s: %w", ref.Entity, ref.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// Cursor returns the cursor for an entity and side, or nil if none was saved.
func (s *syncStateStore) Cursor(ctx context.Context, entity domain.EntityType, side domain.Side) (*domain.SyncCursor, error) {
	var since string
	err := s.store.db.QueryRowContext(ctx,
		"SELECT since FROM sync_cursors WHERE entity = ? AND side = ?",
		string(entity), string(side)).Scan(&since)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying cursor: %w", err)
	}

	t, err := parseTime(since)
	if err != nil {
		return nil, fmt.Errorf("parsing cursor %s/%s: %w", entity, side, err)
	}
	return &domain.SyncCursor{Entity: entity, Side: side, Since: t}, nil
}

// SaveCursor stores or replaces a cursor.
func (s *syncStateStore) SaveCursor(ctx context.Context, cursor domain.SyncCursor) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (entity, side, since)
		VALUES (?, ?, ?)
		ON CONFLICT(entity, side) DO UPDATE SET since = excluded.since
	`, string(cursor.Entity), string(cursor.Side), formatTime(cursor.Since))
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// ==================== Helper Functions ====================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSyncStateEntry scans a single sync_state row.
func scanSyncStateEntry(row rowScanner) (*domain.SyncStateEntry, error) {
	var (
		entity, key, srcID, tgtID string
		srcFP, tgtFP              string
		srcFields, tgtFields      sql.NullString
		syncedAt                  string
	)
	if err := row.Scan(&entity, &key, &srcID, &tgtID, &srcFP, &tgtFP, &srcFields, &tgtFields, &syncedAt); err != nil {
		return nil, fmt.Errorf("scanning sync state: %w", err)
	}

	entry := &domain.SyncStateEntry{
		EntityType:            domain.EntityType(entity),
		LinkKey:               key,
		ExternalIDs:           make(map[domain.Side]string, 2),
		LastFingerprintBySide: make(map[domain.Side]string, 2),
		LastFieldsBySide:      make(map[domain.Side]map[string]any, 2),
	}

	// A missing side is kept with an empty ID so tombstones round-trip.
	entry.ExternalIDs[domain.SideSource] = srcID
	entry.ExternalIDs[domain.SideTarget] = tgtID
	entry.LastFingerprintBySide[domain.SideSource] = srcFP
	entry.LastFingerprintBySide[domain.SideTarget] = tgtFP

	for side, raw := range map[domain.Side]sql.NullString{domain.SideSource: srcFields, domain.SideTarget: tgtFields} {
		fields, err := unmarshalFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s snapshot of %s: %w", side, key, err)
		}
		if fields != nil {
			entry.LastFieldsBySide[side] = fields
		}
	}

	t, err := parseTime(syncedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing last_synced_at of %s: %w", key, err)
	}
	entry.LastSyncedAt = t

	return entry, nil
}

// marshalFields encodes a snapshot, storing NULL for a missing one.
func marshalFields(fields map[string]any) (any, error) {
	if fields == nil {
		return nil, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// unmarshalFields decodes a snapshot column. NULL yields nil.
func unmarshalFields(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw.String), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// formatTime formats a time in UTC with fixed-width nanoseconds.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// formatNullableTime formats a time, returning nil for zero time.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseNullableTime parses a nullable timestamp.
// Returns zero time if the string is empty or invalid.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := parseTime(s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// boolToInt converts a bool to 1 (true) or 0 (false).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
