package monitor

import (
	"context"
	"time"

	"github.com/execledger/execledger/internal/store"
	"github.com/execledger/execledger/internal/types"
)

// topRepositoryLimit bounds the repository leaderboard.
const topRepositoryLimit = 10

// StatisticsReport is the execution_statistics document for one
// trailing window.
type StatisticsReport struct {
	TimeRange       string                  `json:"time_range"`
	TimeSeries      []store.TimeSeriesPoint `json:"time_series"`
	ByModelTier     []store.GroupStat       `json:"by_model_tier"`
	ByPoolType      []store.GroupStat       `json:"by_pool_type"`
	TopRepositories []store.GroupStat       `json:"top_repositories"`
	ByTaskType      []store.GroupStat       `json:"by_task_type"`
	Performance     *PerformanceReport      `json:"performance"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// ExecutionStatistics assembles per-day series and per-dimension
// breakdowns over the given window.
func (m *Monitor) ExecutionStatistics(ctx context.Context, r types.TimeRange) (*StatisticsReport, error) {
	key := "statistics:" + r.String()
	var cached StatisticsReport
	if m.cache.get(key, &cached) {
		return &cached, nil
	}

	now := time.Now().UTC()
	since := r.Cutoff(now)
	report := &StatisticsReport{
		TimeRange:   r.String(),
		GeneratedAt: now,
	}

	var err error
	if report.TimeSeries, err = m.store.TimeSeries(ctx, since); err != nil {
		return nil, err
	}
	if report.ByModelTier, err = m.store.GroupStats(ctx, "model_tier", since, 0); err != nil {
		return nil, err
	}
	if report.ByPoolType, err = m.store.GroupStats(ctx, "pool_type", since, 0); err != nil {
		return nil, err
	}
	if report.TopRepositories, err = m.store.GroupStats(ctx, "repo", since, topRepositoryLimit); err != nil {
		return nil, err
	}
	if report.ByTaskType, err = m.store.GroupStats(ctx, "task_type", since, 0); err != nil {
		return nil, err
	}
	if report.Performance, err = m.performance(ctx, r, now); err != nil {
		return nil, err
	}

	m.cache.put(key, report)
	return report, nil
}
