package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/execledger/execledger/internal/ingest"
)

// Overall status values, worst annotation wins.
const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusError    = "error"
)

// recentFailureLimit bounds how many side-channel failures a status
// report carries.
const recentFailureLimit = 5

// DatabaseInfo describes the backing database file.
type DatabaseInfo struct {
	Path   string  `json:"path"`
	SizeMB float64 `json:"size_mb"`
}

// ExecutionCounts holds row counts over the standard windows.
type ExecutionCounts struct {
	Total    int64 `json:"total"`
	Recent1h int64 `json:"recent_1h"`
	Daily    int64 `json:"daily"`
	Weekly   int64 `json:"weekly"`
}

// PerformanceSummary summarizes the last 24 hours.
type PerformanceSummary struct {
	DailySuccessRate   float64 `json:"daily_success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// StatusReport is the database_status document. Failing sub-checks add
// warnings or errors; the call itself only fails when the report cannot
// be assembled at all.
type StatusReport struct {
	Status      string             `json:"status"`
	Database    DatabaseInfo       `json:"database"`
	Executions  ExecutionCounts    `json:"executions"`
	Performance PerformanceSummary `json:"performance"`
	Warnings    []string           `json:"warnings"`
	Errors      []string           `json:"errors"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// DatabaseStatus assembles the status document.
func (m *Monitor) DatabaseStatus(ctx context.Context) (*StatusReport, error) {
	var cached StatusReport
	if m.cache.get("status", &cached) {
		return &cached, nil
	}

	now := time.Now().UTC()
	report := &StatusReport{
		Warnings:    []string{},
		Errors:      []string{},
		GeneratedAt: now,
	}

	if err := m.store.Health(ctx); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("database unhealthy: %v", err))
	}

	report.Database.Path = m.store.Path()
	if size, err := m.store.SizeBytes(); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("database size unavailable: %v", err))
	} else {
		report.Database.SizeMB = float64(size) / (1 << 20)
	}

	m.fillCounts(ctx, now, report)
	m.fillPerformance(ctx, now, report)
	m.fillIngest(report)

	switch {
	case len(report.Errors) > 0:
		report.Status = statusError
	case len(report.Warnings) > 0:
		report.Status = statusDegraded
	default:
		report.Status = statusHealthy
	}

	m.cache.put("status", report)
	return report, nil
}

func (m *Monitor) fillCounts(ctx context.Context, now time.Time, report *StatusReport) {
	total, err := m.store.CountExecutions(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("count executions: %v", err))
		return
	}
	report.Executions.Total = total

	windows := []struct {
		since time.Duration
		dst   *int64
		label string
	}{
		{time.Hour, &report.Executions.Recent1h, "hourly"},
		{24 * time.Hour, &report.Executions.Daily, "daily"},
		{7 * 24 * time.Hour, &report.Executions.Weekly, "weekly"},
	}
	for _, w := range windows {
		n, err := m.store.CountSince(ctx, now.Add(-w.since))
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("count %s executions: %v", w.label, err))
			continue
		}
		*w.dst = n
	}

	if total == 0 {
		report.Warnings = append(report.Warnings, "database is empty")
	} else if report.Executions.Recent1h == 0 {
		report.Warnings = append(report.Warnings, "no executions in the last hour")
	}
}

func (m *Monitor) fillPerformance(ctx context.Context, now time.Time, report *StatusReport) {
	count, successes, avgDuration, err := m.store.SuccessStats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("daily performance: %v", err))
		return
	}
	if count > 0 {
		report.Performance.DailySuccessRate = float64(successes) / float64(count)
		report.Performance.AvgDurationSeconds = avgDuration
	}
}

// fillIngest surfaces the ingestion side channel: recent failures go to
// the errors list, elevated backpressure to the warnings list.
func (m *Monitor) fillIngest(report *StatusReport) {
	if m.ingest == nil {
		return
	}

	for _, r := range m.ingest.Reporter().Recent(recentFailureLimit) {
		if r.TaskID != "" {
			report.Errors = append(report.Errors,
				fmt.Sprintf("ingest %s %s: %s", r.Op, r.TaskID, r.Reason))
			continue
		}
		report.Errors = append(report.Errors,
			fmt.Sprintf("ingest %s: %s", r.Op, r.Reason))
	}

	bp := m.ingest.Backpressure()
	if level := bp.CurrentLevel(); level != ingest.LevelNormal {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("ingest backpressure %s (queue %.0f%%)",
				level, bp.Stats().QueueUsage*100))
	}
}
