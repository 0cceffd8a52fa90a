package rollup

import "time"

// Trailing windows covered by the materialized views.
const (
	tierWindow    = 30 * 24 * time.Hour
	poolWindow    = 7 * 24 * time.Hour
	patternWindow = 90 * 24 * time.Hour
)

// TierPerformance is one row of the model-tier view: statistics for a
// single model tier over the trailing 30 days.
type TierPerformance struct {
	ModelTier            string  `json:"model_tier"`
	Executions           int64   `json:"executions"`
	Successes            int64   `json:"successes"`
	SuccessRate          float64 `json:"success_rate"`
	AvgDurationSeconds   float64 `json:"avg_duration_seconds"`
	P95DurationSeconds   float64 `json:"p95_duration_seconds"`
	AvgQualityScore      float64 `json:"avg_quality_score"`
	AvgRoutingConfidence float64 `json:"avg_routing_confidence"`
	AvgCost              float64 `json:"avg_cost"`
	TotalCost            float64 `json:"total_cost"`
}

// PoolPerformance is one row of the worker-pool view: statistics for a
// single pool type over the trailing 7 days.
type PoolPerformance struct {
	PoolType           string  `json:"pool_type"`
	Usage              int64   `json:"usage"`
	Successes          int64   `json:"successes"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	P50DurationSeconds float64 `json:"p50_duration_seconds"`
	P95DurationSeconds float64 `json:"p95_duration_seconds"`
	AvgPeakMemoryMB    float64 `json:"avg_peak_memory_mb"`
}

// SolutionPattern is one row of the solution-pattern view: a recurring
// (task_type, solution_summary) pair over the trailing 90 days. Groups
// below the minimum-support floor are dropped.
type SolutionPattern struct {
	TaskType        string    `json:"task_type"`
	SolutionSummary string    `json:"solution_summary"`
	UsageCount      int64     `json:"usage_count"`
	SuccessRate     float64   `json:"success_rate"`
	AvgQualityScore float64   `json:"avg_quality_score"`
	AvgCost         float64   `json:"avg_cost"`
	LastUsed        time.Time `json:"last_used"`
}

// Snapshot is one complete, immutable recomputation of all three views.
// Readers always hold either a complete old or a complete new snapshot;
// a snapshot is never mutated after publication.
type Snapshot struct {
	Version    int64     `json:"version"`
	ComputedAt time.Time `json:"computed_at"`

	TierPerformance  []TierPerformance `json:"tier_performance"`
	PoolPerformance  []PoolPerformance `json:"pool_performance"`
	SolutionPatterns []SolutionPattern `json:"solution_patterns"`
}
