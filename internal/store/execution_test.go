package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/types"
)

// =============================================================================
// Single Insert
// =============================================================================

func TestInsertExecution_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := &types.ExecutionRecord{
		TaskID:            "round-trip-1",
		Timestamp:         ts,
		TaskType:          "refactor",
		TaskDescription:   "extract billing module",
		Repo:              "api-server",
		FileCount:         12,
		EstimatedTokens:   48000,
		ModelTier:         "sonnet",
		PoolType:          "specialized",
		SwarmTopology:     "star",
		RoutingConfidence: 0.87,
		ComplexityScore:   0.62,
		Success:           true,
		DurationSeconds:   142.5,
		QualityScore:      0.91,
		CostEstimate:      0.42,
		ActualCost:        0.39,
		UserAccepted:      true,
		UserRating:        4,
		PeakMemoryMB:      512.25,
		CPUTimeSeconds:    98.1,
		SolutionSummary:   "split module boundaries along domain seams",
		Embedding:         testEmbedding(0.25),
		Metadata:          map[string]any{"branch": "main", "retries": float64(2)},
	}

	if err := store.InsertExecution(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetExecution(context.Background(), "round-trip-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp: expected %v, got %v", ts, got.Timestamp)
	}
	if got.TaskType != rec.TaskType || got.Repo != rec.Repo {
		t.Errorf("descriptors mismatch: %+v", got)
	}
	if got.ModelTier != "sonnet" || got.PoolType != "specialized" || got.SwarmTopology != "star" {
		t.Errorf("routing mismatch: %+v", got)
	}
	if got.RoutingConfidence != 0.87 || got.ComplexityScore != 0.62 {
		t.Errorf("scores mismatch: %+v", got)
	}
	if !got.Success || got.DurationSeconds != 142.5 || got.QualityScore != 0.91 {
		t.Errorf("outcome mismatch: %+v", got)
	}
	if got.CostEstimate != 0.42 || got.ActualCost != 0.39 {
		t.Errorf("cost mismatch: %+v", got)
	}
	if !got.UserAccepted || got.UserRating != 4 {
		t.Errorf("feedback mismatch: %+v", got)
	}
	if got.PeakMemoryMB != 512.25 || got.CPUTimeSeconds != 98.1 {
		t.Errorf("resources mismatch: %+v", got)
	}
	if got.SolutionSummary != rec.SolutionSummary {
		t.Errorf("summary mismatch: %q", got.SolutionSummary)
	}

	if len(got.Embedding) != types.EmbeddingDim {
		t.Fatalf("expected %d-dim embedding, got %d", types.EmbeddingDim, len(got.Embedding))
	}
	for i, v := range rec.Embedding {
		if got.Embedding[i] != v {
			t.Fatalf("embedding[%d]: expected %v, got %v", i, v, got.Embedding[i])
		}
	}

	if got.Metadata["branch"] != "main" {
		t.Errorf("metadata branch: %v", got.Metadata["branch"])
	}
	if got.Metadata["retries"] != float64(2) {
		t.Errorf("metadata retries: %v", got.Metadata["retries"])
	}
}

func TestInsertExecution_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	rec := generateTestRecords(1, time.Now())[0]
	if err := store.InsertExecution(context.Background(), rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := store.InsertExecution(context.Background(), rec)
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInsertExecution_Invalid(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	tests := []struct {
		name   string
		mutate func(*types.ExecutionRecord)
	}{
		{"missing task_type", func(r *types.ExecutionRecord) { r.TaskType = "" }},
		{"missing model_tier", func(r *types.ExecutionRecord) { r.ModelTier = "" }},
		{"missing pool_type", func(r *types.ExecutionRecord) { r.PoolType = "" }},
		{"confidence above 1", func(r *types.ExecutionRecord) { r.RoutingConfidence = 1.5 }},
		{"negative duration", func(r *types.ExecutionRecord) { r.DurationSeconds = -1 }},
		{"error fields on success", func(r *types.ExecutionRecord) {
			r.Success = true
			r.ErrorType = "timeout"
		}},
		{"rating above max", func(r *types.ExecutionRecord) { r.UserRating = 9 }},
		{"wrong embedding size", func(r *types.ExecutionRecord) { r.Embedding = []float32{1, 2, 3} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := generateTestRecords(1, time.Now())[0]
			rec.Success = true
			rec.ErrorType = ""
			rec.ErrorMessage = ""
			tt.mutate(rec)

			err := store.InsertExecution(context.Background(), rec)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	count, err := store.CountExecutions(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("invalid records must not land, got %d rows", count)
	}
}

func TestInsertExecution_GeneratesTaskID(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	rec := generateTestRecords(1, time.Now())[0]
	rec.TaskID = ""

	if err := store.InsertExecution(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.TaskID == "" {
		t.Fatal("expected generated task_id")
	}

	if _, err := store.GetExecution(context.Background(), rec.TaskID); err != nil {
		t.Errorf("get generated id: %v", err)
	}
}

// =============================================================================
// Batch Insert
// =============================================================================

func TestInsertExecutions_AllValid(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	recs := generateTestRecords(250, time.Now().Add(-24*time.Hour))
	summary, err := store.InsertExecutions(context.Background(), recs, false)
	if err != nil {
		t.Fatalf("batch insert: %v", err)
	}

	if summary.InsertedCount != 250 {
		t.Errorf("expected 250 inserted, got %d", summary.InsertedCount)
	}
	if summary.RejectedCount() != 0 {
		t.Errorf("expected 0 rejected, got %d", summary.RejectedCount())
	}

	count, _ := store.CountExecutions(context.Background())
	if count != 250 {
		t.Errorf("expected 250 rows, got %d", count)
	}
}

func TestInsertExecutions_PartialRejection(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	recs := generateTestRecords(10, time.Now())
	recs[2].ModelTier = ""             // invalid
	recs[5].RoutingConfidence = 2.0    // invalid
	recs[7].TaskID = recs[1].TaskID    // duplicate within batch
	recs[9] = nil                      // nil record

	summary, err := store.InsertExecutions(context.Background(), recs, false)
	if err != nil {
		t.Fatalf("batch insert: %v", err)
	}

	if summary.InsertedCount != 6 {
		t.Errorf("expected 6 inserted, got %d", summary.InsertedCount)
	}
	if summary.RejectedCount() != 4 {
		t.Fatalf("expected 4 rejected, got %d: %+v", summary.RejectedCount(), summary.Rejected)
	}

	rejectedIdx := map[int]bool{}
	for _, r := range summary.Rejected {
		rejectedIdx[r.Index] = true
		if r.Reason == "" {
			t.Errorf("rejection at %d has no reason", r.Index)
		}
	}
	for _, want := range []int{2, 5, 7, 9} {
		if !rejectedIdx[want] {
			t.Errorf("expected index %d rejected, got %+v", want, summary.Rejected)
		}
	}

	count, _ := store.CountExecutions(context.Background())
	if count != 6 {
		t.Errorf("expected 6 rows, got %d", count)
	}
}

func TestInsertExecutions_ExistingIDs(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	first := generateTestRecords(5, time.Now())
	mustInsert(t, store, first)

	second := generateTestRecords(8, time.Now()) // task-0000..task-0007, first 5 collide
	summary, err := store.InsertExecutions(context.Background(), second, false)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}

	if summary.InsertedCount != 3 {
		t.Errorf("expected 3 inserted, got %d", summary.InsertedCount)
	}
	if summary.RejectedCount() != 5 {
		t.Fatalf("expected 5 rejected, got %d", summary.RejectedCount())
	}
	for _, r := range summary.Rejected {
		if r.Reason != "task_id already exists" {
			t.Errorf("unexpected reason: %q", r.Reason)
		}
	}
}

func TestInsertExecutions_Strict(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	recs := generateTestRecords(5, time.Now())
	recs[3].PoolType = ""

	summary, err := store.InsertExecutions(context.Background(), recs, true)
	if !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if summary.InsertedCount != 0 {
		t.Errorf("strict batch must insert nothing, got %d", summary.InsertedCount)
	}

	count, _ := store.CountExecutions(context.Background())
	if count != 0 {
		t.Errorf("expected 0 rows after strict failure, got %d", count)
	}
}

func TestInsertExecutions_StrictExisting(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	mustInsert(t, store, generateTestRecords(3, time.Now()))

	recs := generateTestRecords(5, time.Now())
	_, err := store.InsertExecutions(context.Background(), recs, true)
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	count, _ := store.CountExecutions(context.Background())
	if count != 3 {
		t.Errorf("expected 3 rows untouched, got %d", count)
	}
}

func TestInsertExecutions_Empty(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	summary, err := store.InsertExecutions(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if summary.InsertedCount != 0 || summary.RejectedCount() != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

// =============================================================================
// Reads
// =============================================================================

func TestGetExecution_NotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.GetExecution(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryExecutions_Filters(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mustInsert(t, store, generateTestRecords(60, base))

	ctx := context.Background()

	t.Run("by repo", func(t *testing.T) {
		out, err := store.QueryExecutions(ctx, Filter{Repo: "api-server"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(out) != 20 {
			t.Errorf("expected 20 records, got %d", len(out))
		}
		for _, r := range out {
			if r.Repo != "api-server" {
				t.Fatalf("wrong repo in result: %s", r.Repo)
			}
		}
	})

	t.Run("by success", func(t *testing.T) {
		failed := false
		out, err := store.QueryExecutions(ctx, Filter{Success: &failed})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(out) != 15 {
			t.Errorf("expected 15 failures, got %d", len(out))
		}
	})

	t.Run("time window", func(t *testing.T) {
		out, err := store.QueryExecutions(ctx, Filter{
			Since: base.Add(10 * time.Minute),
			Until: base.Add(20 * time.Minute),
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(out) != 10 {
			t.Errorf("expected 10 records in window, got %d", len(out))
		}
	})

	t.Run("min quality", func(t *testing.T) {
		q := 0.85
		out, err := store.QueryExecutions(ctx, Filter{MinQuality: &q})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, r := range out {
			if r.QualityScore < q {
				t.Fatalf("record below quality floor: %f", r.QualityScore)
			}
		}
		if len(out) == 0 {
			t.Error("expected some high-quality records")
		}
	})

	t.Run("order and limit", func(t *testing.T) {
		out, err := store.QueryExecutions(ctx, Filter{OrderBy: "duration", Limit: 5})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(out) != 5 {
			t.Fatalf("expected 5 records, got %d", len(out))
		}
		for i := 1; i < len(out); i++ {
			if out[i].DurationSeconds > out[i-1].DurationSeconds {
				t.Errorf("expected descending duration order")
			}
		}
	})

	t.Run("ascending timestamps", func(t *testing.T) {
		out, err := store.QueryExecutions(ctx, Filter{Ascending: true, Limit: 10})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for i := 1; i < len(out); i++ {
			if out[i].Timestamp.Before(out[i-1].Timestamp) {
				t.Errorf("expected ascending timestamp order")
			}
		}
	})

	t.Run("bad order column", func(t *testing.T) {
		_, err := store.QueryExecutions(ctx, Filter{OrderBy: "repo; DROP TABLE executions"})
		if !errors.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestQueryExecutions_CapsAtMaxRows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRows = 10
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()

	mustInsert(t, store, generateTestRecords(30, time.Now().Add(-time.Hour)))

	out, err := store.QueryExecutions(context.Background(), Filter{Limit: 1000})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 10 {
		t.Errorf("expected MaxRows cap of 10, got %d", len(out))
	}
}

func TestInsertExecutions_ChunkBoundary(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	// Exactly one row past the chunk size exercises the second chunk.
	recs := generateTestRecords(maxRowsPerInsert+1, time.Now().Add(-time.Hour))
	summary, err := store.InsertExecutions(context.Background(), recs, false)
	if err != nil {
		t.Fatalf("batch insert: %v", err)
	}
	if summary.InsertedCount != maxRowsPerInsert+1 {
		t.Errorf("expected %d inserted, got %d", maxRowsPerInsert+1, summary.InsertedCount)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if isDuplicateKey(nil) {
		t.Error("nil is not a duplicate key error")
	}
	if !isDuplicateKey(fmt.Errorf(`Constraint Error: Duplicate key "task_id: x" violates primary key constraint`)) {
		t.Error("expected duplicate key match")
	}
	if isDuplicateKey(errors.New("connection refused")) {
		t.Error("unrelated error matched")
	}
}
