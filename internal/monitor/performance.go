package monitor

import (
	"context"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/execledger/execledger/internal/store"
	"github.com/execledger/execledger/internal/types"
)

// sketchAccuracy is the relative accuracy of the percentile sketches.
const sketchAccuracy = 0.01

// DurationMetrics holds duration statistics in seconds.
type DurationMetrics struct {
	AvgSeconds float64 `json:"avg_seconds"`
	P50        float64 `json:"p50"`
	P95        float64 `json:"p95"`
	P99        float64 `json:"p99"`
}

// CostMetrics holds cost totals over the window.
type CostMetrics struct {
	TotalCost float64 `json:"total_cost"`
	AvgCost   float64 `json:"avg_cost"`
}

// ResourceMetrics holds memory statistics in megabytes.
type ResourceMetrics struct {
	AvgMemoryMB float64 `json:"avg_memory_mb"`
	P95MemoryMB float64 `json:"p95_memory_mb"`
}

// PerformanceReport is the performance_metrics document for one
// trailing window.
type PerformanceReport struct {
	TimeRange   string          `json:"time_range"`
	Executions  int64           `json:"executions"`
	Duration    DurationMetrics `json:"duration"`
	Cost        CostMetrics     `json:"cost"`
	Resources   ResourceMetrics `json:"resources"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// PerformanceMetrics computes duration and memory percentiles plus cost
// totals over the given window from one streamed scan.
func (m *Monitor) PerformanceMetrics(ctx context.Context, r types.TimeRange) (*PerformanceReport, error) {
	key := "performance:" + r.String()
	var cached PerformanceReport
	if m.cache.get(key, &cached) {
		return &cached, nil
	}

	report, err := m.performance(ctx, r, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	m.cache.put(key, report)
	return report, nil
}

func (m *Monitor) performance(ctx context.Context, r types.TimeRange, now time.Time) (*PerformanceReport, error) {
	report := &PerformanceReport{
		TimeRange:   r.String(),
		GeneratedAt: now,
	}

	duration, _ := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	memory, _ := ddsketch.NewDefaultDDSketch(sketchAccuracy)

	var count int64
	var durationSum, costSum, memorySum float64

	err := m.store.ForEachMetricSince(ctx, r.Cutoff(now), func(row *store.MetricRow) error {
		count++
		durationSum += row.DurationSeconds
		costSum += row.ActualCost
		memorySum += row.PeakMemoryMB

		if duration != nil {
			duration.Add(row.DurationSeconds)
		}
		if memory != nil {
			memory.Add(row.PeakMemoryMB)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return report, nil
	}

	n := float64(count)
	report.Executions = count
	report.Duration.AvgSeconds = durationSum / n
	report.Cost.TotalCost = costSum
	report.Cost.AvgCost = costSum / n
	report.Resources.AvgMemoryMB = memorySum / n

	if duration != nil {
		p50, _ := duration.GetValueAtQuantile(0.50)
		p95, _ := duration.GetValueAtQuantile(0.95)
		p99, _ := duration.GetValueAtQuantile(0.99)
		report.Duration.P50 = p50
		report.Duration.P95 = p95
		report.Duration.P99 = p99
	}
	if memory != nil {
		p95, _ := memory.GetValueAtQuantile(0.95)
		report.Resources.P95MemoryMB = p95
	}

	return report, nil
}
