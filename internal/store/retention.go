package store

import (
	"context"
	"time"

	"github.com/execledger/execledger/internal/types"
)

// =============================================================================
// Counts
// =============================================================================

// CountExecutions returns the total number of stored records.
func (s *Store) CountExecutions(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, "", nil)
}

// CountSince returns the number of records with ts >= since.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countWhere(ctx, "WHERE ts >= ?", []any{since.UTC()})
}

// CountOlderThan returns the number of records with ts < cutoff.
func (s *Store) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.countWhere(ctx, "WHERE ts < ?", []any{cutoff.UTC()})
}

func (s *Store) countWhere(ctx context.Context, where string, args []any) (int64, error) {
	var count int64
	err := s.withSlot(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions "+where, args...)
		if err := row.Scan(&count); err != nil {
			return storageError("count executions", err)
		}
		return nil
	})
	return count, err
}

// =============================================================================
// Retention Primitives
// =============================================================================

// ForEachOlderThan streams records with ts < cutoff to fn in ascending
// timestamp order. Iteration stops on the first error fn returns. The
// ordering makes archive file contents deterministic for a given cutoff.
func (s *Store) ForEachOlderThan(ctx context.Context, cutoff time.Time, fn func(*types.ExecutionRecord) error) error {
	return s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+executionColumns+" FROM executions WHERE ts < ? ORDER BY ts ASC, task_id ASC",
			cutoff.UTC())
		if err != nil {
			return storageError("select expired executions", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanExecution(rows)
			if err != nil {
				return storageError("scan expired execution", err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// DeleteOlderThan removes records with ts < cutoff and returns how many
// were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.withSlot(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM executions WHERE ts < ?", cutoff.UTC())
		if err != nil {
			return storageError("delete expired executions", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageError("count deleted executions", err)
		}
		deleted = n
		return nil
	})
	return deleted, err
}

// DistinctDaysOlderThan returns how many distinct UTC calendar days are
// covered by records with ts < cutoff.
func (s *Store) DistinctDaysOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var days int
	err := s.withSlot(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			"SELECT COUNT(DISTINCT CAST(ts AS DATE)) FROM executions WHERE ts < ?",
			cutoff.UTC())
		if err := row.Scan(&days); err != nil {
			return storageError("count expired days", err)
		}
		return nil
	})
	return days, err
}

// OldestTimestamp returns the earliest record timestamp, or the zero time
// when the table is empty.
func (s *Store) OldestTimestamp(ctx context.Context) (time.Time, error) {
	var oldest time.Time
	err := s.withSlot(ctx, func(ctx context.Context) error {
		var ts *time.Time
		row := s.db.QueryRowContext(ctx, "SELECT MIN(ts) FROM executions")
		if err := row.Scan(&ts); err != nil {
			return storageError("read oldest timestamp", err)
		}
		if ts != nil {
			oldest = ts.UTC()
		}
		return nil
	})
	return oldest, err
}
