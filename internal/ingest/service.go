// Package ingest implements the asynchronous write path for execution
// records.
//
// Records arrive through a fire-and-forget entry point, sit in a bounded
// ring queue, and are flushed to the store in batches by a background
// worker. Failures never propagate to producers; they are recorded on a
// side channel and surfaced through status reporting. A backpressure
// controller sheds incoming records when the queue approaches capacity.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/logging"
	"github.com/execledger/execledger/internal/store"
	"github.com/execledger/execledger/internal/types"
)

// flushTimeout bounds how long one batch flush may hold a store slot.
const flushTimeout = 30 * time.Second

// Service orchestrates the record ingestion pipeline.
// It manages the flow: Records → Queue → Batch Insert → Store
type Service struct {
	config config.IngestConfig
	store  *store.Store

	// Components
	queue        *Queue
	backpressure *Controller
	reporter     *Reporter

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats

	// Channels
	flushCh chan struct{}

	log *slog.Logger
}

// Stats holds ingestion statistics.
type Stats struct {
	Received atomic.Int64
	Stored   atomic.Int64
	Rejected atomic.Int64
	Dropped  atomic.Int64
	Batches  atomic.Int64
	Errors   atomic.Int64
}

// New creates a new ingestion service writing to the given store.
func New(cfg config.IngestConfig, st *store.Store) *Service {
	queue := NewQueue(cfg.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:       cfg,
		store:        st,
		queue:        queue,
		backpressure: NewController(cfg.Backpressure, queue),
		reporter:     NewReporter(),
		ctx:          ctx,
		cancel:       cancel,
		flushCh:      make(chan struct{}, 1),
		log:          logging.Component("ingest"),
	}

	s.backpressure.SetOnLevelChange(func(old, new Level) {
		s.log.Warn("backpressure level changed",
			"from", old.String(), "to", new.String(),
			"queue_usage", queue.UsageRatio())
	})

	return s
}

// Start starts the flush worker.
func (s *Service) Start() error {
	if s.running.Load() {
		return fmt.Errorf("ingest service already running")
	}
	s.running.Store(true)

	s.wg.Add(1)
	go s.flushWorker()

	return nil
}

// Stop stops the service gracefully and drains the queue.
func (s *Service) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	s.cancel()

	s.wg.Wait()

	// Final drain so accepted records are not lost on shutdown.
	s.flush()

	return nil
}

// =============================================================================
// Write Path
// =============================================================================

// Store enqueues one record for asynchronous persistence. It never returns
// an error: a record that cannot be accepted is dropped and the failure is
// recorded on the side channel.
func (s *Service) Store(rec *types.ExecutionRecord) {
	if rec == nil {
		return
	}
	s.stats.Received.Add(1)

	if !s.running.Load() {
		s.stats.Dropped.Add(1)
		s.reporter.Record("store", rec.TaskID, "ingest service not running")
		return
	}

	s.backpressure.Check()
	if s.backpressure.ShouldShed() {
		s.stats.Dropped.Add(1)
		s.reporter.Record("store", rec.TaskID, "shed under backpressure")
		return
	}

	if !s.queue.Push(rec) {
		s.stats.Dropped.Add(1)
		s.reporter.Record("store", rec.TaskID, "ingest queue full")
		return
	}

	if s.queue.Len() >= s.config.BatchSize {
		s.ForceFlush()
	}
}

// StoreBatch persists a batch synchronously, bypassing the queue. Row-level
// rejections are reported in the summary and mirrored to the side channel.
// Storage failures propagate to the caller.
func (s *Service) StoreBatch(ctx context.Context, recs []*types.ExecutionRecord) (*types.InsertSummary, error) {
	s.stats.Received.Add(int64(len(recs)))

	summary, err := s.store.InsertExecutions(ctx, recs, s.config.StrictBatch)
	if err != nil {
		s.stats.Errors.Add(1)
		return summary, err
	}

	s.recordSummary("store_batch", summary)
	s.stats.Batches.Add(1)

	return summary, nil
}

// =============================================================================
// Flush Worker
// =============================================================================

// flushWorker periodically drains the queue into the store.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		case <-s.flushCh:
			s.flush()
		}
	}
}

// flush drains the queue in batch-sized chunks.
func (s *Service) flush() {
	for {
		batch := s.queue.PopN(s.config.BatchSize)
		if len(batch) == 0 {
			return
		}

		s.flushBatch(batch)

		if len(batch) < s.config.BatchSize {
			return
		}
	}
}

// flushBatch inserts one batch. Rejected rows and storage failures go to
// the side channel; a failed batch is dropped, not retried, so a broken
// store cannot back the queue up indefinitely.
func (s *Service) flushBatch(batch []*types.ExecutionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	summary, err := s.store.InsertExecutions(ctx, batch, false)
	if err != nil {
		s.stats.Errors.Add(1)
		s.stats.Dropped.Add(int64(len(batch)))
		s.reporter.Record("flush", "", err.Error())
		s.log.Error("flush batch failed",
			"batch_size", len(batch), "error", err)
		return
	}

	s.recordSummary("flush", summary)
	s.stats.Batches.Add(1)
}

// recordSummary updates counters and reports per-row rejections.
func (s *Service) recordSummary(op string, summary *types.InsertSummary) {
	s.stats.Stored.Add(int64(summary.InsertedCount))
	s.stats.Rejected.Add(int64(summary.RejectedCount()))

	for _, rej := range summary.Rejected {
		taskID := ""
		if rej.Record != nil {
			taskID = rej.Record.TaskID
		}
		s.reporter.Record(op, taskID, rej.Reason)
	}
}

// ForceFlush triggers an immediate flush.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// =============================================================================
// Introspection
// =============================================================================

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running      bool            `json:"running"`
	Received     int64           `json:"received"`
	Stored       int64           `json:"stored"`
	Rejected     int64           `json:"rejected"`
	Dropped      int64           `json:"dropped"`
	Batches      int64           `json:"batches"`
	Errors       int64           `json:"errors"`
	Queue        QueueStats      `json:"queue"`
	Backpressure ControllerStats `json:"backpressure"`
	RecentErrors int64           `json:"recent_errors"`
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Running:      s.running.Load(),
		Received:     s.stats.Received.Load(),
		Stored:       s.stats.Stored.Load(),
		Rejected:     s.stats.Rejected.Load(),
		Dropped:      s.stats.Dropped.Load(),
		Batches:      s.stats.Batches.Load(),
		Errors:       s.stats.Errors.Load(),
		Queue:        s.queue.Stats(),
		Backpressure: s.backpressure.Stats(),
		RecentErrors: s.reporter.Total(),
	}
}

// Reporter exposes the ingestion failure side channel.
func (s *Service) Reporter() *Reporter {
	return s.reporter
}

// Backpressure exposes the backpressure controller.
func (s *Service) Backpressure() *Controller {
	return s.backpressure
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
