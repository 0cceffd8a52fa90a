package types

import (
	"math"
	"testing"
	"time"

	"github.com/execledger/execledger/internal/errors"
)

func validRecord() *ExecutionRecord {
	return &ExecutionRecord{
		TaskID:            "task-001",
		Timestamp:         time.Now().UTC(),
		TaskType:          "bugfix",
		ModelTier:         "standard",
		PoolType:          "gpu-small",
		RoutingConfidence: 0.8,
		Success:           true,
		DurationSeconds:   12.5,
	}
}

func TestValidate_ValidRecord(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
}

func TestValidate_Invariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ExecutionRecord)
	}{
		{"missing task_id", func(r *ExecutionRecord) { r.TaskID = "" }},
		{"missing timestamp", func(r *ExecutionRecord) { r.Timestamp = time.Time{} }},
		{"missing task_type", func(r *ExecutionRecord) { r.TaskType = "" }},
		{"missing model_tier", func(r *ExecutionRecord) { r.ModelTier = "" }},
		{"missing pool_type", func(r *ExecutionRecord) { r.PoolType = "" }},
		{"confidence above 1", func(r *ExecutionRecord) { r.RoutingConfidence = 1.01 }},
		{"confidence below 0", func(r *ExecutionRecord) { r.RoutingConfidence = -0.01 }},
		{"negative duration", func(r *ExecutionRecord) { r.DurationSeconds = -1 }},
		{"negative cost_estimate", func(r *ExecutionRecord) { r.CostEstimate = -0.5 }},
		{"negative actual_cost", func(r *ExecutionRecord) { r.ActualCost = -0.5 }},
		{"negative memory", func(r *ExecutionRecord) { r.PeakMemoryMB = -1 }},
		{"negative file_count", func(r *ExecutionRecord) { r.FileCount = -1 }},
		{"error fields on success", func(r *ExecutionRecord) { r.ErrorType = "timeout" }},
		{"rating above max", func(r *ExecutionRecord) { r.UserRating = 6 }},
		{"short embedding", func(r *ExecutionRecord) { r.Embedding = make([]float32, 100) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)

			err := rec.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected a validation category error, got %v", err)
			}
		})
	}
}

func TestValidate_ErrorFieldsOnFailure(t *testing.T) {
	rec := validRecord()
	rec.Success = false
	rec.ErrorType = "timeout"
	rec.ErrorMessage = "execution exceeded deadline"

	if err := rec.Validate(); err != nil {
		t.Fatalf("failed execution with error context rejected: %v", err)
	}
}

func TestValidate_FullEmbedding(t *testing.T) {
	rec := validRecord()
	rec.Embedding = make([]float32, EmbeddingDim)

	if err := rec.Validate(); err != nil {
		t.Fatalf("full-length embedding rejected: %v", err)
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	rec := validRecord()
	rec.TaskType = ""
	rec.RoutingConfidence = 2
	rec.DurationSeconds = -1

	err := rec.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("expected 3 collected failures, got %d: %v", len(verrs.Errors), err)
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	rec := &ExecutionRecord{}
	rec.Normalize(now)

	if rec.TaskID == "" {
		t.Error("expected a generated task_id")
	}
	if !rec.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, rec.Timestamp)
	}

	// Normalize never overwrites caller-supplied values.
	earlier := now.Add(-time.Hour)
	rec2 := &ExecutionRecord{TaskID: "keep", Timestamp: earlier}
	rec2.Normalize(now)
	if rec2.TaskID != "keep" || !rec2.Timestamp.Equal(earlier) {
		t.Errorf("normalize overwrote supplied identity: %+v", rec2)
	}
}

func TestVector_RoundTrip(t *testing.T) {
	vec := make([]float32, EmbeddingDim)
	for i := range vec {
		vec[i] = float32(i) * 0.25
	}
	vec[0] = -1.5
	vec[1] = float32(math.Pi)

	decoded, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("length mismatch: got %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("value mismatch at %d: got %v, want %v", i, decoded[i], vec[i])
		}
	}
}

func TestVector_DecodeErrors(t *testing.T) {
	if v, err := DecodeVector(nil); err != nil || v != nil {
		t.Errorf("nil blob: got %v, %v", v, err)
	}

	_, err := DecodeVector([]byte{1, 2, 3})
	if !errors.Is(err, errors.ErrInvalidVector) {
		t.Errorf("expected ErrInvalidVector, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors: got %v, want 1", got)
	}
	if got := CosineSimilarity(a, b); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: got %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, 0}); got != 0 {
		t.Errorf("mismatched lengths: got %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero norm: got %v, want 0", got)
	}
}

func TestTimeRange(t *testing.T) {
	tests := []struct {
		in   string
		want TimeRange
		days int
	}{
		{"7d", Range7d, 7},
		{"30d", Range30d, 30},
		{"90d", Range90d, 90},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseTimeRange(tt.in)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if r != tt.want || r.Days() != tt.days || r.String() != tt.in {
				t.Errorf("got %v (%d days, %q)", r, r.Days(), r.String())
			}
		})
	}

	if _, err := ParseTimeRange("1y"); !errors.Is(err, errors.ErrInvalidTimeRange) {
		t.Errorf("expected ErrInvalidTimeRange, got %v", err)
	}
}
