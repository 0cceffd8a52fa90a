package monitor

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/ingest"
	"github.com/execledger/execledger/internal/store"
	"github.com/execledger/execledger/internal/types"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		CacheTTL:      time.Minute,
		CacheMaxBytes: 1 << 20,
	}
}

// setupTestMonitor backs the store with a file so size reporting works.
func setupTestMonitor(t *testing.T) (*Monitor, *store.Store) {
	t.Helper()

	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "monitor.db")
	st, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m, err := New(testMonitorConfig(), st, nil)
	if err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	t.Cleanup(m.Close)

	return m, st
}

func monitorRecord(id int, age time.Duration) *types.ExecutionRecord {
	return &types.ExecutionRecord{
		TaskID:            fmt.Sprintf("mon-%04d", id),
		Timestamp:         time.Now().UTC().Add(-age),
		TaskType:          []string{"bugfix", "feature"}[id%2],
		Repo:              []string{"core", "api", "web"}[id%3],
		ModelTier:         []string{"standard", "premium"}[id%2],
		PoolType:          []string{"gpu-small", "cpu-large"}[id%2],
		Success:           id%4 != 0,
		DurationSeconds:   float64(id%10) + 1,
		QualityScore:      0.8,
		RoutingConfidence: 0.9,
		ActualCost:        0.5,
		PeakMemoryMB:      float64(100 + id%50),
	}
}

func mustInsertMonitor(t *testing.T, st *store.Store, recs ...*types.ExecutionRecord) {
	t.Helper()
	for _, rec := range recs {
		if err := st.InsertExecution(context.Background(), rec); err != nil {
			t.Fatalf("insert %s failed: %v", rec.TaskID, err)
		}
	}
}

// =============================================================================
// Database Status
// =============================================================================

func TestMonitor_DatabaseStatus(t *testing.T) {
	m, st := setupTestMonitor(t)
	ctx := context.Background()

	// 10 within the hour, 5 a few hours old, 5 three days old.
	for i := 0; i < 10; i++ {
		mustInsertMonitor(t, st, monitorRecord(i, 10*time.Minute))
	}
	for i := 10; i < 15; i++ {
		mustInsertMonitor(t, st, monitorRecord(i, 5*time.Hour))
	}
	for i := 15; i < 20; i++ {
		mustInsertMonitor(t, st, monitorRecord(i, 3*24*time.Hour))
	}

	report, err := m.DatabaseStatus(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if report.Status != statusHealthy {
		t.Errorf("status = %q (warnings %v, errors %v)", report.Status, report.Warnings, report.Errors)
	}
	if report.Executions.Total != 20 {
		t.Errorf("total = %d, want 20", report.Executions.Total)
	}
	if report.Executions.Recent1h != 10 {
		t.Errorf("recent_1h = %d, want 10", report.Executions.Recent1h)
	}
	if report.Executions.Daily != 15 {
		t.Errorf("daily = %d, want 15", report.Executions.Daily)
	}
	if report.Executions.Weekly != 20 {
		t.Errorf("weekly = %d, want 20", report.Executions.Weekly)
	}
	if report.Database.Path == "" || report.Database.SizeMB <= 0 {
		t.Errorf("unexpected database info: %+v", report.Database)
	}

	// 15 records in the last day, ids 0..14, failures where id%4 == 0.
	wantRate := 11.0 / 15.0
	if math.Abs(report.Performance.DailySuccessRate-wantRate) > 1e-9 {
		t.Errorf("daily success rate = %v, want %v", report.Performance.DailySuccessRate, wantRate)
	}
	if report.Performance.AvgDurationSeconds <= 0 {
		t.Errorf("avg duration = %v, want > 0", report.Performance.AvgDurationSeconds)
	}
}

func TestMonitor_StatusOnEmptyDatabase(t *testing.T) {
	m, _ := setupTestMonitor(t)

	report, err := m.DatabaseStatus(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != statusDegraded {
		t.Errorf("status = %q, want %q", report.Status, statusDegraded)
	}

	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "database is empty") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected empty-database warning, got %v", report.Warnings)
	}
}

func TestMonitor_StatusCarriesIngestFailures(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "monitor.db")
	st, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	ing := ingest.New(config.IngestConfig{
		QueueSize:     16,
		BatchSize:     8,
		FlushInterval: time.Hour,
	}, st)
	// Not started: the store below lands on the side channel.
	ing.Store(&types.ExecutionRecord{TaskID: "dropped-1"})

	m, err := New(testMonitorConfig(), st, ing)
	if err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	defer m.Close()

	report, err := m.DatabaseStatus(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != statusError {
		t.Errorf("status = %q, want %q", report.Status, statusError)
	}

	found := false
	for _, e := range report.Errors {
		if strings.Contains(e, "dropped-1") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ingest failure in errors, got %v", report.Errors)
	}
}

func TestMonitor_StatusIsCached(t *testing.T) {
	m, st := setupTestMonitor(t)
	ctx := context.Background()

	mustInsertMonitor(t, st, monitorRecord(1, time.Minute))

	first, err := m.DatabaseStatus(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	m.cache.c.Wait()

	mustInsertMonitor(t, st, monitorRecord(2, time.Minute))

	second, err := m.DatabaseStatus(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if second.Executions.Total != first.Executions.Total {
		t.Errorf("expected cached counts within TTL, got %d then %d",
			first.Executions.Total, second.Executions.Total)
	}
}

// =============================================================================
// Statistics and Performance
// =============================================================================

func TestMonitor_ExecutionStatistics(t *testing.T) {
	m, st := setupTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 24; i++ {
		mustInsertMonitor(t, st, monitorRecord(i, time.Duration(i)*time.Hour))
	}

	report, err := m.ExecutionStatistics(ctx, types.Range7d)
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}

	if report.TimeRange != "7d" {
		t.Errorf("time range = %q, want 7d", report.TimeRange)
	}
	if len(report.ByModelTier) != 2 {
		t.Errorf("expected 2 tiers, got %+v", report.ByModelTier)
	}
	if len(report.ByPoolType) != 2 {
		t.Errorf("expected 2 pools, got %+v", report.ByPoolType)
	}
	if len(report.TopRepositories) != 3 {
		t.Errorf("expected 3 repositories, got %+v", report.TopRepositories)
	}
	if len(report.ByTaskType) != 2 {
		t.Errorf("expected 2 task types, got %+v", report.ByTaskType)
	}
	if len(report.TimeSeries) == 0 {
		t.Error("expected a non-empty time series")
	}
	if report.Performance == nil || report.Performance.Executions != 24 {
		t.Errorf("unexpected performance section: %+v", report.Performance)
	}

	var total int64
	for _, g := range report.ByModelTier {
		total += g.Count
	}
	if total != 24 {
		t.Errorf("tier counts sum to %d, want 24", total)
	}
}

func TestMonitor_PerformanceMetrics(t *testing.T) {
	m, st := setupTestMonitor(t)
	ctx := context.Background()

	// Durations 1..10 repeated, cost 0.5 each, memory 100..149.
	for i := 0; i < 100; i++ {
		mustInsertMonitor(t, st, monitorRecord(i, time.Hour))
	}

	report, err := m.PerformanceMetrics(ctx, types.Range7d)
	if err != nil {
		t.Fatalf("performance failed: %v", err)
	}

	if report.Executions != 100 {
		t.Errorf("executions = %d, want 100", report.Executions)
	}
	if math.Abs(report.Duration.AvgSeconds-5.5) > 1e-9 {
		t.Errorf("avg duration = %v, want 5.5", report.Duration.AvgSeconds)
	}
	if report.Duration.P50 < 4 || report.Duration.P50 > 7 {
		t.Errorf("p50 = %v, want ~5-6", report.Duration.P50)
	}
	if report.Duration.P95 < 9 || report.Duration.P95 > 10.5 {
		t.Errorf("p95 = %v, want ~10", report.Duration.P95)
	}
	if math.Abs(report.Cost.TotalCost-50) > 1e-9 {
		t.Errorf("total cost = %v, want 50", report.Cost.TotalCost)
	}
	if math.Abs(report.Cost.AvgCost-0.5) > 1e-9 {
		t.Errorf("avg cost = %v, want 0.5", report.Cost.AvgCost)
	}
	if report.Resources.AvgMemoryMB < 100 || report.Resources.AvgMemoryMB > 150 {
		t.Errorf("avg memory = %v, want within [100,150]", report.Resources.AvgMemoryMB)
	}
	if report.Resources.P95MemoryMB < report.Resources.AvgMemoryMB {
		t.Errorf("p95 memory %v below average %v",
			report.Resources.P95MemoryMB, report.Resources.AvgMemoryMB)
	}
}

func TestMonitor_PerformanceMetricsEmpty(t *testing.T) {
	m, _ := setupTestMonitor(t)

	report, err := m.PerformanceMetrics(context.Background(), types.Range30d)
	if err != nil {
		t.Fatalf("performance failed: %v", err)
	}
	if report.Executions != 0 || report.Duration.P95 != 0 || report.Cost.TotalCost != 0 {
		t.Errorf("expected zero report, got %+v", report)
	}
}

// =============================================================================
// Similarity
// =============================================================================

func similarityVector(fill float32) []float32 {
	v := make([]float32, types.EmbeddingDim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestMonitor_SimilarExecutions(t *testing.T) {
	m, st := setupTestMonitor(t)
	ctx := context.Background()

	query := make([]float32, types.EmbeddingDim)
	for i := range query {
		query[i] = float32(i%7) - 3
	}

	exact := monitorRecord(1, time.Hour)
	exact.Embedding = append([]float32(nil), query...)

	opposite := monitorRecord(2, time.Hour)
	opposite.Embedding = make([]float32, types.EmbeddingDim)
	for i := range opposite.Embedding {
		opposite.Embedding[i] = -query[i]
	}

	uniform := monitorRecord(3, time.Hour)
	uniform.Embedding = similarityVector(1)

	bare := monitorRecord(4, time.Hour) // no embedding

	mustInsertMonitor(t, st, exact, opposite, uniform, bare)

	results, err := m.SimilarExecutions(ctx, query, 2)
	if err != nil {
		t.Fatalf("similarity failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.TaskID != exact.TaskID {
		t.Errorf("best match = %s, want %s", results[0].Record.TaskID, exact.TaskID)
	}
	if math.Abs(results[0].Similarity-1) > 1e-6 {
		t.Errorf("best similarity = %v, want ~1", results[0].Similarity)
	}
	if results[1].Similarity > results[0].Similarity {
		t.Error("results not ordered by similarity")
	}

	for _, r := range results {
		if r.Record.TaskID == opposite.TaskID {
			t.Error("opposite vector ranked into top 2")
		}
	}
}

func TestMonitor_SimilarExecutionsRejectsBadVector(t *testing.T) {
	m, _ := setupTestMonitor(t)

	_, err := m.SimilarExecutions(context.Background(), []float32{1, 2, 3}, 5)
	if err == nil {
		t.Fatal("expected error for wrong vector length")
	}
}

// =============================================================================
// Cache
// =============================================================================

func TestResponseCache_RoundTrip(t *testing.T) {
	rc, err := newResponseCache(1<<20, time.Minute)
	if err != nil {
		t.Fatalf("cache failed: %v", err)
	}
	defer rc.close()

	in := &StatusReport{Status: statusHealthy, Warnings: []string{}, Errors: []string{}}
	rc.put("status", in)
	rc.c.Wait()

	var out StatusReport
	if !rc.get("status", &out) {
		t.Fatal("expected cache hit")
	}
	if out.Status != statusHealthy {
		t.Errorf("round trip lost data: %+v", out)
	}
}

func TestResponseCache_Disabled(t *testing.T) {
	rc, err := newResponseCache(0, time.Minute)
	if err != nil {
		t.Fatalf("disabled cache errored: %v", err)
	}
	if rc != nil {
		t.Fatal("expected nil cache when disabled")
	}

	var out StatusReport
	if rc.get("status", &out) {
		t.Error("nil cache must miss")
	}
	rc.put("status", &out) // must not panic
	rc.close()
}
