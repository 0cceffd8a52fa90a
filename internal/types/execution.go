package types

import "time"

// EmbeddingDim is the fixed length of the semantic vector attached to a
// record. Records either carry no embedding or exactly this many values.
const EmbeddingDim = 384

// ExecutionRecord is one row of execution telemetry: a single completed
// task-routing/execution event. Records are append-only; after ingestion
// they are never mutated, only read by rollups and queries and eventually
// removed by retention.
type ExecutionRecord struct {
	// Identity
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`

	// Task descriptors
	TaskType        string `json:"task_type"`
	TaskDescription string `json:"task_description,omitempty"`
	Repo            string `json:"repo,omitempty"`
	FileCount       int    `json:"file_count,omitempty"`
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`

	// Routing decision
	ModelTier         string  `json:"model_tier"`
	PoolType          string  `json:"pool_type"`
	SwarmTopology     string  `json:"swarm_topology,omitempty"`
	RoutingConfidence float64 `json:"routing_confidence"`
	ComplexityScore   float64 `json:"complexity_score,omitempty"`

	// Outcome
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
	QualityScore    float64 `json:"quality_score,omitempty"`

	// Cost
	CostEstimate float64 `json:"cost_estimate,omitempty"`
	ActualCost   float64 `json:"actual_cost,omitempty"`

	// Error context, only set on failed executions
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Feedback
	UserAccepted bool `json:"user_accepted,omitempty"`
	UserRating   int  `json:"user_rating,omitempty"`

	// Resource usage
	PeakMemoryMB   float64 `json:"peak_memory_mb,omitempty"`
	CPUTimeSeconds float64 `json:"cpu_time_seconds,omitempty"`

	// Derived artifact used for pattern aggregation
	SolutionSummary string `json:"solution_summary,omitempty"`

	// Semantic vector (length 0 or EmbeddingDim)
	Embedding []float32 `json:"embedding,omitempty"`

	// Open extension bag, persisted as JSON
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Age returns how old the record is relative to now.
func (r *ExecutionRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// HasEmbedding returns true if the record carries a semantic vector.
func (r *ExecutionRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// RejectedRecord pairs a rejected record with the reason it was refused.
type RejectedRecord struct {
	Index  int              `json:"index"`
	Record *ExecutionRecord `json:"record,omitempty"`
	Reason string           `json:"reason"`
}

// InsertSummary reports the outcome of a batch insert: how many rows
// landed and which were rejected row-by-row.
type InsertSummary struct {
	InsertedCount int              `json:"inserted_count"`
	Rejected      []RejectedRecord `json:"rejected,omitempty"`
}

// RejectedCount returns the number of rejected rows.
func (s *InsertSummary) RejectedCount() int {
	return len(s.Rejected)
}

// AllInserted returns true if no row was rejected.
func (s *InsertSummary) AllInserted() bool {
	return len(s.Rejected) == 0
}
