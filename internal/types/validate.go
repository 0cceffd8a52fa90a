package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/execledger/execledger/internal/errors"
)

// MaxUserRating is the upper bound of the feedback rating scale.
// Zero means unrated.
const MaxUserRating = 5

// Normalize fills defaults for fields the caller may leave empty:
// a missing task_id gets a fresh UUID and a zero timestamp becomes the
// current instant. Called on the ingestion path before Validate.
func (r *ExecutionRecord) Normalize(now time.Time) {
	if r.TaskID == "" {
		r.TaskID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now.UTC()
	}
}

// Validate checks the record against the schema invariants. All failures
// are collected so a rejection reason names every bad field at once.
func (r *ExecutionRecord) Validate() error {
	v := errors.NewValidationErrors()

	if r.TaskID == "" {
		v.AddMissing("task_id")
	}
	if r.Timestamp.IsZero() {
		v.AddMissing("timestamp")
	}
	if r.TaskType == "" {
		v.AddMissing("task_type")
	}
	if r.ModelTier == "" {
		v.AddMissing("model_tier")
	}
	if r.PoolType == "" {
		v.AddMissing("pool_type")
	}

	if r.RoutingConfidence < 0 || r.RoutingConfidence > 1 {
		v.Add(errors.NewOutOfRange("routing_confidence", r.RoutingConfidence, 0, 1))
	}
	if r.DurationSeconds < 0 {
		v.AddField("duration_seconds", "must be non-negative")
	}
	if r.CostEstimate < 0 {
		v.AddField("cost_estimate", "must be non-negative")
	}
	if r.ActualCost < 0 {
		v.AddField("actual_cost", "must be non-negative")
	}
	if r.PeakMemoryMB < 0 {
		v.AddField("peak_memory_mb", "must be non-negative")
	}
	if r.CPUTimeSeconds < 0 {
		v.AddField("cpu_time_seconds", "must be non-negative")
	}
	if r.FileCount < 0 {
		v.AddField("file_count", "must be non-negative")
	}
	if r.EstimatedTokens < 0 {
		v.AddField("estimated_tokens", "must be non-negative")
	}

	if r.Success && (r.ErrorType != "" || r.ErrorMessage != "") {
		v.AddField("error_type", "must be empty on successful executions")
	}

	if r.UserRating < 0 || r.UserRating > MaxUserRating {
		v.Add(errors.NewOutOfRange("user_rating", r.UserRating, 0, MaxUserRating))
	}

	if n := len(r.Embedding); n != 0 && n != EmbeddingDim {
		v.AddField("embedding", fmt.Sprintf("length %d, want %d", n, EmbeddingDim))
	}

	return v.Err()
}
