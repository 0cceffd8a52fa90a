// Package rollup maintains materialized views over the executions table.
//
// Three views are recomputed from a single streaming scan bounded by the
// widest trailing window: model-tier performance (30d), pool performance
// (7d) and solution patterns (90d). Recomputation is idempotent, deduped
// across concurrent callers, and published by an atomic pointer swap so
// readers never observe a partially updated view. The scheduler refreshes
// eagerly on a cadence; the first read before that computes lazily.
package rollup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/logging"
	"github.com/execledger/execledger/internal/store"
)

// Service owns the view snapshots and their recomputation.
type Service struct {
	config config.RollupConfig
	store  *store.Store

	// Dedupes concurrent recomputations into one scan.
	group singleflight.Group

	// Last published snapshot. Nil until the first computation.
	current atomic.Pointer[Snapshot]
	version atomic.Int64

	log *slog.Logger
}

// New creates a rollup service reading from the given store.
func New(cfg config.RollupConfig, st *store.Store) *Service {
	return &Service{
		config: cfg,
		store:  st,
		log:    logging.Component("rollup"),
	}
}

// Snapshot returns the current view snapshot, computing one on first
// access. Later calls return the published snapshot without touching
// the store; staleness is bounded by the refresh cadence.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Refresh recomputes all views and publishes the result atomically.
// Concurrent calls coalesce into a single computation and share its
// snapshot. A failed computation leaves the previous snapshot in place.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	result, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.compute(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// compute scans metric rows once and builds a fresh snapshot.
func (s *Service) compute(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	now := started.UTC()

	b := newBuilder(now, s.config.PercentileAccuracy, s.config.MinPatternSupport)

	var rows int64
	err := s.store.ForEachMetricSince(ctx, now.Add(-patternWindow), func(row *store.MetricRow) error {
		b.add(row)
		rows++
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap := b.snapshot()
	snap.Version = s.version.Add(1)
	snap.ComputedAt = now
	s.current.Store(snap)

	s.log.Debug("rollup views recomputed",
		"version", snap.Version,
		"rows", rows,
		"tiers", len(snap.TierPerformance),
		"pools", len(snap.PoolPerformance),
		"patterns", len(snap.SolutionPatterns),
		"elapsed", time.Since(started))

	return snap, nil
}

// Version returns the version of the published snapshot, 0 before the
// first computation.
func (s *Service) Version() int64 {
	if snap := s.current.Load(); snap != nil {
		return snap.Version
	}
	return 0
}

// ComputedAt returns when the published snapshot was computed, zero
// before the first computation.
func (s *Service) ComputedAt() time.Time {
	if snap := s.current.Load(); snap != nil {
		return snap.ComputedAt
	}
	return time.Time{}
}
