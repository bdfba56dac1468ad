package storage

import (
	"context"
	"fmt"

	"github.com/tessen-ai/kanshi/internal/model"
)

// UpsertErrorRecord stores one classified error. Rows are unique per
// (query_id, category, subcategory); a repeat bumps frequency_count and
// refreshes last_seen instead of inserting a duplicate.
func (db *DB) UpsertErrorRecord(ctx context.Context, e model.ErrorRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.errors
		 (query_id, error_category, error_subcategory, error_message, severity, suggested_fix)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (query_id, error_category, error_subcategory) DO UPDATE SET
		   frequency_count = monitoring.errors.frequency_count + 1,
		   error_message = EXCLUDED.error_message,
		   severity = EXCLUDED.severity,
		   suggested_fix = EXCLUDED.suggested_fix,
		   last_seen = now()`,
		e.QueryID, string(e.Category), e.Subcategory, e.ErrorMessage, string(e.Severity), e.SuggestedFix,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert error record: %w", err)
	}
	return nil
}

// ListErrorsByQuery returns the classified errors for one query.
func (db *DB) ListErrorsByQuery(ctx context.Context, queryID string) ([]model.ErrorRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, query_id, error_category, error_subcategory, error_message, severity,
		        suggested_fix, frequency_count, first_seen, last_seen
		 FROM monitoring.errors WHERE query_id = $1 ORDER BY id ASC`, queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list errors by query: %w", err)
	}
	defer rows.Close()

	var out []model.ErrorRecord
	for rows.Next() {
		var e model.ErrorRecord
		if err := rows.Scan(
			&e.ID, &e.QueryID, &e.Category, &e.Subcategory, &e.ErrorMessage, &e.Severity,
			&e.SuggestedFix, &e.Frequency, &e.FirstSeen, &e.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("storage: scan error record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
