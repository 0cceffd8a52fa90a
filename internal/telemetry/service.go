// Package telemetry wires the execution telemetry store together: the
// DuckDB store behind its connection gate, the fire-and-forget ingest
// pipeline, the materialized view rollups, the retention manager and
// the monitoring endpoints, all driven by one maintenance scheduler.
package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/ingest"
	"github.com/execledger/execledger/internal/logging"
	"github.com/execledger/execledger/internal/monitor"
	"github.com/execledger/execledger/internal/retention"
	"github.com/execledger/execledger/internal/rollup"
	"github.com/execledger/execledger/internal/schedule"
	"github.com/execledger/execledger/internal/store"
	"github.com/execledger/execledger/internal/types"
)

// Maintenance job names.
const (
	jobRollupRefresh  = "rollup-refresh"
	jobRetentionCycle = "retention-cycle"
)

// Service is the assembled telemetry store. All public operations go
// through it; components are not reachable from outside the module.
type Service struct {
	config *config.Config

	store     *store.Store
	ingest    *ingest.Service
	rollup    *rollup.Service
	retention *retention.Manager
	monitor   *monitor.Monitor
	scheduler *schedule.Scheduler

	running atomic.Bool
	started time.Time

	log *slog.Logger
}

// New validates the configuration, opens the store and builds all
// components. Nothing runs until Start.
func New(cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.New(store.Config{
		Path:           cfg.DatabasePath(),
		MemoryLimit:    cfg.Database.MemoryLimit,
		Threads:        cfg.Database.Threads,
		PoolSize:       cfg.Pool.Size,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		QueryTimeout:   cfg.Database.QueryTimeout,
		MaxRows:        cfg.Monitor.MaxRows,
	})
	if err != nil {
		return nil, err
	}

	ing := ingest.New(cfg.Ingest, st)

	mon, err := monitor.New(cfg.Monitor, st, ing)
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Service{
		config:    cfg,
		store:     st,
		ingest:    ing,
		rollup:    rollup.New(cfg.Rollup, st),
		retention: retention.New(cfg.Retention, cfg.ArchiveDir(), st),
		monitor:   mon,
		scheduler: schedule.New(nil),
		log:       logging.Component("service"),
	}

	s.scheduler.SetDeferFunc(ing.Backpressure().ShouldDeferMaintenance)

	if err := s.registerJobs(); err != nil {
		mon.Close()
		st.Close()
		return nil, err
	}

	return s, nil
}

// registerJobs places the view refresh and the retention cycle on the
// maintenance schedule. Both run on the scheduler's single worker, so
// a refresh and a retention delete never overlap in-process.
func (s *Service) registerJobs() error {
	if err := s.scheduler.Register(schedule.Job{
		Name:     jobRollupRefresh,
		Interval: s.config.Rollup.RefreshInterval,
		Run: func(ctx context.Context) error {
			_, err := s.rollup.Refresh(ctx)
			return err
		},
	}); err != nil {
		return err
	}

	return s.scheduler.Register(schedule.Job{
		Name: jobRetentionCycle,
		Cron: s.config.Retention.Schedule,
		Run: func(ctx context.Context) error {
			result, err := s.retention.Run(ctx)
			if err != nil {
				return err
			}
			s.log.Info("retention cycle completed",
				"archived", result.ArchivedCount,
				"deleted", result.DeletedCount,
				"days_cleaned", result.DaysCleaned)
			return nil
		},
	})
}

// Start launches the ingest flush worker and the maintenance scheduler.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.Wrap(errors.ErrAlreadyExists, "service already running")
	}

	if err := s.ingest.Start(); err != nil {
		s.running.Store(false)
		return err
	}
	s.scheduler.Start()
	s.started = time.Now()

	s.log.Info("telemetry service started",
		"database", s.store.Path(),
		"pool_size", s.config.Pool.Size,
		"retention_days", s.config.Retention.Days,
		"archive_enabled", s.config.Retention.Archive.Enabled)

	return nil
}

// Stop shuts components down in dependency order: the scheduler first
// so no maintenance job starts mid-shutdown, then the ingest pipeline
// (which drains its queue), and the store last.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.log.Info("telemetry service stopping")

	s.scheduler.Stop()

	if err := s.ingest.Stop(); err != nil {
		s.log.Warn("ingest stop", "error", err)
	}

	s.monitor.Close()

	if err := s.store.Close(); err != nil {
		return err
	}

	s.log.Info("telemetry service stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// =============================================================================
// Ingestion
// =============================================================================

// Store enqueues one record for asynchronous persistence. Fire and
// forget: failures are counted and surfaced through DatabaseStatus,
// never returned to the caller.
func (s *Service) Store(rec *types.ExecutionRecord) {
	s.ingest.Store(rec)
}

// StoreBatch persists a batch synchronously and reports per-row
// rejections in the summary.
func (s *Service) StoreBatch(ctx context.Context, recs []*types.ExecutionRecord) (*types.InsertSummary, error) {
	return s.ingest.StoreBatch(ctx, recs)
}

// GetExecution fetches one record by task ID.
func (s *Service) GetExecution(ctx context.Context, taskID string) (*types.ExecutionRecord, error) {
	return s.store.GetExecution(ctx, taskID)
}

// QueryExecutions runs a filtered query against the live table.
func (s *Service) QueryExecutions(ctx context.Context, f store.Filter) ([]*types.ExecutionRecord, error) {
	return s.store.QueryExecutions(ctx, f)
}

// =============================================================================
// Monitoring
// =============================================================================

// DatabaseStatus returns the database_status document.
func (s *Service) DatabaseStatus(ctx context.Context) (*monitor.StatusReport, error) {
	return s.monitor.DatabaseStatus(ctx)
}

// ExecutionStatistics returns the execution_statistics document for a
// trailing window.
func (s *Service) ExecutionStatistics(ctx context.Context, r types.TimeRange) (*monitor.StatisticsReport, error) {
	return s.monitor.ExecutionStatistics(ctx, r)
}

// PerformanceMetrics returns duration/cost/resource percentiles for a
// trailing window.
func (s *Service) PerformanceMetrics(ctx context.Context, r types.TimeRange) (*monitor.PerformanceReport, error) {
	return s.monitor.PerformanceMetrics(ctx, r)
}

// SimilarExecutions returns the k stored records closest to the given
// embedding by cosine similarity.
func (s *Service) SimilarExecutions(ctx context.Context, embedding []float32, k int) ([]monitor.SimilarExecution, error) {
	return s.monitor.SimilarExecutions(ctx, embedding, k)
}

// ExecuteSQL runs an ad-hoc query. Intended for inspection tooling.
func (s *Service) ExecuteSQL(ctx context.Context, query string) (*store.SQLResult, error) {
	return s.store.ExecuteSQL(ctx, query)
}

// =============================================================================
// Views
// =============================================================================

// RefreshViews recomputes all materialized views immediately, ahead of
// the scheduled cadence.
func (s *Service) RefreshViews(ctx context.Context) (*rollup.Snapshot, error) {
	return s.rollup.Refresh(ctx)
}

// TierPerformance returns the model-tier view (trailing 30 days).
func (s *Service) TierPerformance(ctx context.Context) ([]rollup.TierPerformance, error) {
	snap, err := s.rollup.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.TierPerformance, nil
}

// PoolPerformance returns the worker-pool view (trailing 7 days).
func (s *Service) PoolPerformance(ctx context.Context) ([]rollup.PoolPerformance, error) {
	snap, err := s.rollup.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.PoolPerformance, nil
}

// SolutionPatterns returns the solution-pattern view (trailing 90 days,
// minimum-support filtered).
func (s *Service) SolutionPatterns(ctx context.Context) ([]rollup.SolutionPattern, error) {
	snap, err := s.rollup.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.SolutionPatterns, nil
}

// =============================================================================
// Retention
// =============================================================================

// RunRetention runs one retention cycle immediately. Errors propagate
// to the caller; the live table is untouched on archival failure.
func (s *Service) RunRetention(ctx context.Context) (*retention.Result, error) {
	return s.retention.Run(ctx)
}

// DryRunRetention reports what a retention cycle would remove without
// writing anything.
func (s *Service) DryRunRetention(ctx context.Context) (*retention.Result, error) {
	return s.retention.DryRun(ctx)
}

// =============================================================================
// Stats
// =============================================================================

// Stats is an aggregate point-in-time snapshot across all components.
type Stats struct {
	Running          bool                `json:"running"`
	UptimeSeconds    float64             `json:"uptime_seconds"`
	Ingest           ingest.ServiceStats `json:"ingest"`
	Pool             store.GateStats     `json:"pool"`
	Retention        retention.Stats     `json:"retention"`
	Scheduler        schedule.Stats      `json:"scheduler"`
	RollupVersion    int64               `json:"rollup_version"`
	RollupComputedAt time.Time           `json:"rollup_computed_at"`
}

// Stats returns a snapshot across all components.
func (s *Service) Stats() Stats {
	st := Stats{
		Running:          s.running.Load(),
		Ingest:           s.ingest.Stats(),
		Pool:             s.store.PoolStats(),
		Retention:        s.retention.Stats(),
		Scheduler:        s.scheduler.Stats(),
		RollupVersion:    s.rollup.Version(),
		RollupComputedAt: s.rollup.ComputedAt(),
	}
	if st.Running {
		st.UptimeSeconds = time.Since(s.started).Seconds()
	}
	return st
}
