package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/types"
)

// =============================================================================
// Execution Row Mapping
// =============================================================================

// maxRowsPerInsert bounds the size of a single multi-row INSERT statement.
// Large batches are chunked so statements stay within reasonable size.
const maxRowsPerInsert = 100

// executionColumns is the canonical column list shared by inserts and scans.
// Order matters: insertArgs and scanExecution follow it exactly.
const executionColumns = `task_id, ts, task_type, task_description, repo,
	file_count, estimated_tokens, model_tier, pool_type, swarm_topology,
	routing_confidence, complexity_score, success, duration_seconds,
	quality_score, cost_estimate, actual_cost, error_type, error_message,
	user_accepted, user_rating, peak_memory_mb, cpu_time_seconds,
	solution_summary, embedding, metadata`

const executionColumnCount = 26

var executionPlaceholders = "(" +
	strings.TrimSuffix(strings.Repeat("?, ", executionColumnCount), ", ") + ")"

// insertArgs flattens a record into bind arguments in executionColumns order.
func insertArgs(r *types.ExecutionRecord) ([]any, error) {
	var metadata any
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, errors.NewValidation("metadata", err.Error())
		}
		metadata = string(b)
	}

	var embedding any
	if r.HasEmbedding() {
		embedding = types.EncodeVector(r.Embedding)
	}

	return []any{
		r.TaskID, r.Timestamp.UTC(), r.TaskType, r.TaskDescription, r.Repo,
		r.FileCount, r.EstimatedTokens, r.ModelTier, r.PoolType, r.SwarmTopology,
		r.RoutingConfidence, r.ComplexityScore, r.Success, r.DurationSeconds,
		r.QualityScore, r.CostEstimate, r.ActualCost, r.ErrorType, r.ErrorMessage,
		r.UserAccepted, r.UserRating, r.PeakMemoryMB, r.CPUTimeSeconds,
		r.SolutionSummary, embedding, metadata,
	}, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanExecution reads one row in executionColumns order.
func scanExecution(row rowScanner) (*types.ExecutionRecord, error) {
	var (
		r         types.ExecutionRecord
		ts        time.Time
		embedding []byte
		metadata  sql.NullString
	)

	err := row.Scan(
		&r.TaskID, &ts, &r.TaskType, &r.TaskDescription, &r.Repo,
		&r.FileCount, &r.EstimatedTokens, &r.ModelTier, &r.PoolType, &r.SwarmTopology,
		&r.RoutingConfidence, &r.ComplexityScore, &r.Success, &r.DurationSeconds,
		&r.QualityScore, &r.CostEstimate, &r.ActualCost, &r.ErrorType, &r.ErrorMessage,
		&r.UserAccepted, &r.UserRating, &r.PeakMemoryMB, &r.CPUTimeSeconds,
		&r.SolutionSummary, &embedding, &metadata,
	)
	if err != nil {
		return nil, err
	}

	r.Timestamp = ts.UTC()

	if len(embedding) > 0 {
		vec, err := types.DecodeVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", r.TaskID, err)
		}
		r.Embedding = vec
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.TaskID, err)
		}
	}

	return &r, nil
}

// storageError tags an engine failure with the storage sentinel so callers
// can classify it without string matching.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, errors.ErrStorage)
}

// isDuplicateKey reports whether err is a primary key violation. DuckDB has
// no typed constraint errors over database/sql, so this matches the message.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key") ||
		strings.Contains(msg, "primary key constraint")
}

// =============================================================================
// Single Insert
// =============================================================================

// InsertExecution validates and stores one record. The record is normalized
// in place: a missing task_id gets a generated one, a zero timestamp is set
// to now.
func (s *Store) InsertExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	rec.Normalize(time.Now())
	if err := rec.Validate(); err != nil {
		return err
	}

	args, err := insertArgs(rec)
	if err != nil {
		return err
	}

	query := "INSERT INTO executions (" + executionColumns + ") VALUES " + executionPlaceholders

	return s.withSlot(ctx, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			if isDuplicateKey(err) {
				return errors.NewAlreadyExists("execution", rec.TaskID)
			}
			return storageError("insert execution", err)
		}
		return nil
	})
}

// =============================================================================
// Batch Insert
// =============================================================================

// InsertExecutions stores a batch of records. Invalid rows and duplicate
// task_ids are rejected individually and reported in the summary; the valid
// remainder is inserted atomically in one transaction, so a failure partway
// through leaves nothing behind.
//
// With strict set, any rejection aborts the whole batch and nothing is
// inserted.
func (s *Store) InsertExecutions(ctx context.Context, recs []*types.ExecutionRecord, strict bool) (*types.InsertSummary, error) {
	summary := &types.InsertSummary{}
	if len(recs) == 0 {
		return summary, nil
	}

	now := time.Now()
	valid := make([]*types.ExecutionRecord, 0, len(recs))
	validIdx := make([]int, 0, len(recs))
	seen := make(map[string]int, len(recs))

	for i, rec := range recs {
		if rec == nil {
			summary.Rejected = append(summary.Rejected, types.RejectedRecord{
				Index: i, Reason: "nil record",
			})
			continue
		}
		rec.Normalize(now)
		if err := rec.Validate(); err != nil {
			summary.Rejected = append(summary.Rejected, types.RejectedRecord{
				Index: i, Record: rec, Reason: err.Error(),
			})
			continue
		}
		if first, dup := seen[rec.TaskID]; dup {
			summary.Rejected = append(summary.Rejected, types.RejectedRecord{
				Index: i, Record: rec,
				Reason: fmt.Sprintf("task_id duplicates row %d in batch", first),
			})
			continue
		}
		seen[rec.TaskID] = i
		valid = append(valid, rec)
		validIdx = append(validIdx, i)
	}

	if strict && len(summary.Rejected) > 0 {
		return &types.InsertSummary{Rejected: summary.Rejected},
			fmt.Errorf("strict batch: %d of %d records rejected: %w",
				len(summary.Rejected), len(recs), errors.ErrValidation)
	}
	if len(valid) == 0 {
		return summary, nil
	}

	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		existing, err := existingTaskIDs(ctx, tx, valid)
		if err != nil {
			return err
		}

		if len(existing) > 0 {
			if strict {
				return fmt.Errorf("strict batch: %d task_ids already exist: %w",
					len(existing), errors.ErrAlreadyExists)
			}
			kept := valid[:0]
			keptIdx := validIdx[:0]
			for j, rec := range valid {
				if _, ok := existing[rec.TaskID]; ok {
					summary.Rejected = append(summary.Rejected, types.RejectedRecord{
						Index: validIdx[j], Record: rec, Reason: "task_id already exists",
					})
					continue
				}
				kept = append(kept, rec)
				keptIdx = append(keptIdx, validIdx[j])
			}
			valid = kept
			validIdx = keptIdx
		}

		for i := 0; i < len(valid); i += maxRowsPerInsert {
			end := i + maxRowsPerInsert
			if end > len(valid) {
				end = len(valid)
			}
			if err := insertExecutionChunk(ctx, tx, valid[i:end]); err != nil {
				return err
			}
		}

		summary.InsertedCount = len(valid)
		return nil
	})
	if err != nil {
		summary.InsertedCount = 0
		return summary, err
	}

	return summary, nil
}

// existingTaskIDs returns the subset of batch task_ids already present,
// checked inside the insert transaction so the answer stays consistent
// with what the insert will see.
func existingTaskIDs(ctx context.Context, tx *sql.Tx, recs []*types.ExecutionRecord) (map[string]struct{}, error) {
	existing := make(map[string]struct{})

	for i := 0; i < len(recs); i += maxRowsPerInsert {
		end := i + maxRowsPerInsert
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[i:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		args := make([]any, len(chunk))
		for j, r := range chunk {
			args[j] = r.TaskID
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT task_id FROM executions WHERE task_id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, storageError("check existing task_ids", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, storageError("scan existing task_id", err)
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storageError("iterate existing task_ids", err)
		}
		rows.Close()
	}

	return existing, nil
}

// insertExecutionChunk writes up to maxRowsPerInsert records in a single
// multi-row INSERT.
func insertExecutionChunk(ctx context.Context, tx *sql.Tx, chunk []*types.ExecutionRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO executions (")
	sb.WriteString(executionColumns)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(chunk)*executionColumnCount)
	for i, rec := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(executionPlaceholders)

		rowArgs, err := insertArgs(rec)
		if err != nil {
			return err
		}
		args = append(args, rowArgs...)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return storageError("insert execution chunk", err)
	}
	return nil
}

// =============================================================================
// Point and Filtered Reads
// =============================================================================

// GetExecution fetches one record by task_id.
func (s *Store) GetExecution(ctx context.Context, taskID string) (*types.ExecutionRecord, error) {
	var rec *types.ExecutionRecord

	err := s.withSlot(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			"SELECT "+executionColumns+" FROM executions WHERE task_id = ?", taskID)

		r, err := scanExecution(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errors.NewNotFound("execution", taskID)
			}
			return storageError("get execution", err)
		}
		rec = r
		return nil
	})

	return rec, err
}

// Filter narrows an execution query. Zero values mean no constraint.
type Filter struct {
	Repo       string
	TaskType   string
	ModelTier  string
	PoolType   string
	Success    *bool
	Since      time.Time
	Until      time.Time
	MinQuality *float64

	// OrderBy is one of "timestamp", "duration", "quality". Empty sorts by
	// timestamp. Results are newest-first unless Ascending is set.
	OrderBy   string
	Ascending bool

	Limit  int
	Offset int
}

// filterOrderColumns whitelists sortable columns. Sorting is never built
// from caller strings directly.
var filterOrderColumns = map[string]string{
	"":          "ts",
	"timestamp": "ts",
	"duration":  "duration_seconds",
	"quality":   "quality_score",
}

// QueryExecutions returns records matching the filter. The result size is
// capped at the configured MaxRows even when the filter asks for more.
func (s *Store) QueryExecutions(ctx context.Context, f Filter) ([]*types.ExecutionRecord, error) {
	orderCol, ok := filterOrderColumns[f.OrderBy]
	if !ok {
		return nil, errors.NewInvalidValue("order_by", f.OrderBy, "unknown sort column")
	}

	var conds []string
	var args []any

	if f.Repo != "" {
		conds = append(conds, "repo = ?")
		args = append(args, f.Repo)
	}
	if f.TaskType != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, f.TaskType)
	}
	if f.ModelTier != "" {
		conds = append(conds, "model_tier = ?")
		args = append(args, f.ModelTier)
	}
	if f.PoolType != "" {
		conds = append(conds, "pool_type = ?")
		args = append(args, f.PoolType)
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, f.Until.UTC())
	}
	if f.MinQuality != nil {
		conds = append(conds, "quality_score >= ?")
		args = append(args, *f.MinQuality)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(executionColumns)
	sb.WriteString(" FROM executions")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderCol)
	if f.Ascending {
		sb.WriteString(" ASC")
	} else {
		sb.WriteString(" DESC")
	}

	limit := f.Limit
	if limit <= 0 || limit > s.config.MaxRows {
		limit = s.config.MaxRows
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, limit)

	if f.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, f.Offset)
	}

	var out []*types.ExecutionRecord
	err := s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return storageError("query executions", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanExecution(rows)
			if err != nil {
				return storageError("scan execution", err)
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
