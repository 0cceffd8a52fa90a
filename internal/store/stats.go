package store

import (
	"context"
	"time"

	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/types"
)

// =============================================================================
// Aggregate Scans
// =============================================================================

// GroupStat is one row of a grouped aggregate over executions.
type GroupStat struct {
	Key           string  `json:"key"`
	Count         int64   `json:"count"`
	Successes     int64   `json:"successes"`
	AvgDuration   float64 `json:"avg_duration_seconds"`
	AvgQuality    float64 `json:"avg_quality_score"`
	AvgConfidence float64 `json:"avg_routing_confidence"`
	TotalCost     float64 `json:"total_cost"`
}

// SuccessRate returns successes over count, or zero for an empty group.
func (g *GroupStat) SuccessRate() float64 {
	if g.Count == 0 {
		return 0
	}
	return float64(g.Successes) / float64(g.Count)
}

// groupColumns whitelists the dimensions GroupStats may group by.
var groupColumns = map[string]string{
	"model_tier": "model_tier",
	"pool_type":  "pool_type",
	"task_type":  "task_type",
	"repo":       "repo",
}

// GroupStats aggregates executions since the given time, grouped by one of
// the whitelisted dimensions, largest groups first.
func (s *Store) GroupStats(ctx context.Context, dimension string, since time.Time, limit int) ([]GroupStat, error) {
	col, ok := groupColumns[dimension]
	if !ok {
		return nil, errors.NewInvalidValue("dimension", dimension, "unknown group column")
	}
	if limit <= 0 {
		limit = s.config.MaxRows
	}

	query := `SELECT ` + col + `,
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COALESCE(AVG(duration_seconds), 0),
			COALESCE(AVG(quality_score), 0),
			COALESCE(AVG(routing_confidence), 0),
			COALESCE(SUM(actual_cost), 0)
		FROM executions
		WHERE ts >= ?
		GROUP BY ` + col + `
		ORDER BY COUNT(*) DESC, ` + col + ` ASC
		LIMIT ?`

	var out []GroupStat
	err := s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, since.UTC(), limit)
		if err != nil {
			return storageError("group stats", err)
		}
		defer rows.Close()

		for rows.Next() {
			var g GroupStat
			if err := rows.Scan(&g.Key, &g.Count, &g.Successes,
				&g.AvgDuration, &g.AvgQuality, &g.AvgConfidence, &g.TotalCost); err != nil {
				return storageError("scan group stat", err)
			}
			out = append(out, g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TimeSeriesPoint is one calendar day of execution activity.
type TimeSeriesPoint struct {
	Day         time.Time `json:"day"`
	Count       int64     `json:"count"`
	Successes   int64     `json:"successes"`
	AvgDuration float64   `json:"avg_duration_seconds"`
	TotalCost   float64   `json:"total_cost"`
}

// TimeSeries returns per-day activity since the given time, oldest first.
// Days without executions are absent from the result.
func (s *Store) TimeSeries(ctx context.Context, since time.Time) ([]TimeSeriesPoint, error) {
	query := `SELECT CAST(ts AS DATE),
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COALESCE(AVG(duration_seconds), 0),
			COALESCE(SUM(actual_cost), 0)
		FROM executions
		WHERE ts >= ?
		GROUP BY CAST(ts AS DATE)
		ORDER BY CAST(ts AS DATE) ASC`

	var out []TimeSeriesPoint
	err := s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, since.UTC())
		if err != nil {
			return storageError("time series", err)
		}
		defer rows.Close()

		for rows.Next() {
			var p TimeSeriesPoint
			if err := rows.Scan(&p.Day, &p.Count, &p.Successes,
				&p.AvgDuration, &p.TotalCost); err != nil {
				return storageError("scan time series point", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SuccessStats returns totals over the window: record count, success count,
// and mean duration.
func (s *Store) SuccessStats(ctx context.Context, since time.Time) (count, successes int64, avgDuration float64, err error) {
	err = s.withSlot(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*),
				COUNT(*) FILTER (WHERE success),
				COALESCE(AVG(duration_seconds), 0)
			FROM executions WHERE ts >= ?`, since.UTC())
		if err := row.Scan(&count, &successes, &avgDuration); err != nil {
			return storageError("success stats", err)
		}
		return nil
	})
	return count, successes, avgDuration, err
}

// =============================================================================
// Streaming Scans
// =============================================================================

// MetricRow is the slim projection rollups aggregate over. Full records are
// not materialized for rollup scans; only the measured dimensions are.
type MetricRow struct {
	Timestamp         time.Time
	ModelTier         string
	PoolType          string
	TaskType          string
	Repo              string
	SolutionSummary   string
	Success           bool
	DurationSeconds   float64
	QualityScore      float64
	RoutingConfidence float64
	CostEstimate      float64
	ActualCost        float64
	PeakMemoryMB      float64
	CPUTimeSeconds    float64
}

// ForEachMetricSince streams metric rows with ts >= since to fn in
// timestamp order. Iteration stops on the first error fn returns.
func (s *Store) ForEachMetricSince(ctx context.Context, since time.Time, fn func(*MetricRow) error) error {
	query := `SELECT ts, model_tier, pool_type, task_type, repo,
			solution_summary, success, duration_seconds, quality_score,
			routing_confidence, cost_estimate, actual_cost, peak_memory_mb,
			cpu_time_seconds
		FROM executions
		WHERE ts >= ?
		ORDER BY ts ASC`

	return s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, since.UTC())
		if err != nil {
			return storageError("scan metrics", err)
		}
		defer rows.Close()

		for rows.Next() {
			var m MetricRow
			var ts time.Time
			if err := rows.Scan(&ts, &m.ModelTier, &m.PoolType, &m.TaskType,
				&m.Repo, &m.SolutionSummary, &m.Success, &m.DurationSeconds,
				&m.QualityScore, &m.RoutingConfidence, &m.CostEstimate,
				&m.ActualCost, &m.PeakMemoryMB, &m.CPUTimeSeconds); err != nil {
				return storageError("scan metric row", err)
			}
			m.Timestamp = ts.UTC()

			if err := fn(&m); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// ForEachEmbedding streams (task_id, vector) pairs for records carrying an
// embedding, newest first. An empty taskType matches all task types.
func (s *Store) ForEachEmbedding(ctx context.Context, since time.Time, taskType string, fn func(taskID string, vec []float32) error) error {
	query := `SELECT task_id, embedding FROM executions
		WHERE embedding IS NOT NULL AND ts >= ?`
	args := []any{since.UTC()}
	if taskType != "" {
		query += " AND task_type = ?"
		args = append(args, taskType)
	}
	query += " ORDER BY ts DESC"

	return s.withSlot(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return storageError("scan embeddings", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return storageError("scan embedding row", err)
			}

			vec, err := types.DecodeVector(blob)
			if err != nil {
				// Skip undecodable vectors rather than failing the scan.
				s.log.Warn("skipping corrupt embedding", "task_id", id, "error", err)
				continue
			}

			if err := fn(id, vec); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}
