package store

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Ad-hoc SQL
// =============================================================================

// SQLResult holds the outcome of an ad-hoc query.
type SQLResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`

	// Truncated is set when the row cap cut the result short.
	Truncated bool          `json:"truncated,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ExecuteSQL runs an arbitrary query and returns the rows as generic maps.
// Results are capped at the configured MaxRows; Truncated reports whether
// the cap was hit. Intended for the inspection console, not hot paths.
func (s *Store) ExecuteSQL(ctx context.Context, query string) (*SQLResult, error) {
	result := &SQLResult{}
	start := time.Now()

	err := s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("execute query: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read columns: %w", err)
		}
		result.Columns = cols

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		for rows.Next() {
			if len(result.Rows) >= s.config.MaxRows {
				result.Truncated = true
				break
			}

			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("scan row: %w", err)
			}

			rowMap := make(map[string]any, len(cols))
			for i, col := range cols {
				rowMap[col] = normalizeSQLValue(values[i])
			}
			result.Rows = append(result.Rows, rowMap)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// normalizeSQLValue converts driver-specific values into plain Go types
// that render and marshal cleanly.
func normalizeSQLValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(val))
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
