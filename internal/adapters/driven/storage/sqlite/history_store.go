package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// ==================== Pass History Store ====================

// passHistoryStore implements driven.PassHistoryStore.
type passHistoryStore struct {
	store *Store
}

var _ driven.PassHistoryStore = (*passHistoryStore)(nil)

// RecordPass stores a pass report. Recording the same pass twice replaces it.
func (s *passHistoryStore) RecordPass(ctx context.Context, result *domain.SyncResult) error {
	if result == nil || result.PassID == "" {
		return domain.ErrInvalidInput
	}

	report, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling pass report: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO pass_history (pass_id, started_at, ended_at, state, dry_run, abort_reason, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pass_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			state = excluded.state,
			abort_reason = excluded.abort_reason,
			report = excluded.report
	`, result.PassID,
		formatTime(result.StartedAt),
		formatNullableTime(result.EndedAt),
		string(result.State),
		boolToInt(result.DryRun),
		nullString(result.AbortReason),
		string(report))

	if err != nil {
		return fmt.Errorf("recording pass %s: %w", result.PassID, err)
	}
	return nil
}

// ListPasses returns recent reports, most recent first.
// A non-positive limit returns every report.
func (s *passHistoryStore) ListPasses(ctx context.Context, limit int) ([]domain.SyncResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT pass_id, started_at, ended_at, state, report
		FROM pass_history
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pass history: %w", err)
	}
	defer rows.Close()

	var results []domain.SyncResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		result, err := scanPassResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pass history: %w", err)
	}

	return results, nil
}

// PruneHistory removes reports beyond the most recent keep.
func (s *passHistoryStore) PruneHistory(ctx context.Context, keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM pass_history
		WHERE pass_id NOT IN (
			SELECT pass_id FROM (
				SELECT pass_id, ROW_NUMBER() OVER (ORDER BY started_at DESC) AS rn
				FROM pass_history
			) WHERE rn <= ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning pass history: %w", err)
	}
	return nil
}

// scanPassResult decodes a stored report. Indexed columns override the JSON body.
func scanPassResult(rows *sql.Rows) (*domain.SyncResult, error) {
	var (
		passID, startedAt, state, report string
		endedAt                          sql.NullString
	)
	if err := rows.Scan(&passID, &startedAt, &endedAt, &state, &report); err != nil {
		return nil, fmt.Errorf("scanning pass history: %w", err)
	}

	var result domain.SyncResult
	if err := json.Unmarshal([]byte(report), &result); err != nil {
		return nil, fmt.Errorf("decoding pass report %s: %w", passID, err)
	}

	started, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at of %s: %w", passID, err)
	}
	result.PassID = passID
	result.StartedAt = started
	result.EndedAt = parseNullableTime(endedAt)
	result.State = domain.PassState(state)
	if result.Counts == nil {
		result.Counts = make(map[domain.EntityType]domain.Counts)
	}

	return &result, nil
}
