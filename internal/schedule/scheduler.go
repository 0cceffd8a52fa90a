// Package schedule runs named maintenance jobs from a min-heap timeline.
//
// Jobs fire on a fixed interval or a cron expression. A single worker
// executes due jobs one at a time, so maintenance that must not overlap
// in-process (view refreshes, the retention cycle) is serialized without
// extra locking. The scheduler recovers from job panics, keeps per-job
// run and error counters, and drains in-flight work on shutdown with a
// bounded timeout.
package schedule

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	defaults "github.com/execledger/execledger/config"
	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/logging"
)

var log = logging.Component("schedule")

// cronParser parses standard 5-field cron expressions
// (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// =============================================================================
// Types
// =============================================================================

// JobFunc is the body of a maintenance job.
type JobFunc func(ctx context.Context) error

// Job describes a named maintenance job. Exactly one of Interval or
// Cron must be set.
type Job struct {
	// Name identifies the job in logs and stats.
	Name string

	// Interval is a fixed cadence between runs.
	Interval time.Duration

	// Cron is a 5-field cron expression evaluated in local time.
	Cron string

	// Run is the job body. It receives a context that is cancelled
	// when the scheduler gives up draining on shutdown.
	Run JobFunc
}

// jobItem is a scheduled job in the heap. Counters and flags are
// guarded by the scheduler mutex.
type jobItem struct {
	name     string
	run      JobFunc
	interval time.Duration
	sched    cron.Schedule // nil for interval jobs
	next     time.Time
	running  bool
	removed  bool
	index    int // Heap index for O(log n) updates

	runs    int64
	errs    int64
	lastRun time.Time
	lastErr string
}

// =============================================================================
// Heap Implementation
// =============================================================================

// jobHeap implements heap.Interface ordered by next run time.
type jobHeap []*jobItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].next.Before(h[j].next)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*jobItem)
	item.index = n
	*h = append(*h, item)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Avoid memory leak
	item.index = -1 // For safety
	*h = old[0 : n-1]
	return item
}

// Peek returns the top item without removing it.
func (h jobHeap) Peek() *jobItem {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// =============================================================================
// Scheduler Configuration
// =============================================================================

// workQueueSize is the dispatch channel capacity between the schedule
// loop and the worker.
const workQueueSize = 16

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is how often the scheduler checks for due jobs.
	TickInterval time.Duration

	// DrainTimeout is how long Stop waits for an in-flight job.
	DrainTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: defaults.DefaultSchedulerTick,
		DrainTimeout: time.Duration(defaults.DefaultDrainTimeoutSec) * time.Second,
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler manages maintenance jobs using a min-heap.
//
// Scheduler is safe for concurrent use. SetDeferFunc must be called
// before Start.
type Scheduler struct {
	mu     sync.Mutex
	heap   jobHeap
	byName map[string]*jobItem

	work chan *jobItem

	// deferFunc, when set, is consulted before dispatching due jobs.
	// While it returns true, due jobs are pushed back a tick.
	deferFunc func() bool

	shutdown chan struct{}
	wakeup   chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	tickInterval time.Duration
	drainTimeout time.Duration

	// Metrics
	deferred atomic.Int64
	active   atomic.Int32
}

// New creates a new Scheduler.
func New(cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaults.DefaultSchedulerTick
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = time.Duration(defaults.DefaultDrainTimeoutSec) * time.Second
	}

	return &Scheduler{
		heap:         make(jobHeap, 0),
		byName:       make(map[string]*jobItem),
		work:         make(chan *jobItem, workQueueSize),
		shutdown:     make(chan struct{}),
		wakeup:       make(chan struct{}, 1),
		tickInterval: tick,
		drainTimeout: drain,
	}
}

// SetDeferFunc sets a load hook consulted before dispatching due jobs.
// While fn returns true, due jobs are pushed back instead of executed.
func (s *Scheduler) SetDeferFunc(fn func() bool) {
	s.deferFunc = fn
}

// =============================================================================
// Job Management
// =============================================================================

// Register adds a job to the schedule. Interval jobs first fire one
// interval after registration; cron jobs fire at the expression's next
// occurrence.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.NewMissingField("name")
	}
	if job.Run == nil {
		return errors.NewMissingField("run")
	}
	if (job.Interval > 0) == (job.Cron != "") {
		return errors.NewInvalidValue("job", job.Name, "exactly one of interval or cron must be set")
	}

	item := &jobItem{
		name:     job.Name,
		run:      job.Run,
		interval: job.Interval,
	}

	now := time.Now()
	if job.Cron != "" {
		sched, err := cronParser.Parse(job.Cron)
		if err != nil {
			return errors.Wrapf(errors.ErrValidation, "job %s: cron %q: %v", job.Name, job.Cron, err)
		}
		item.sched = sched
		item.next = sched.Next(now)
	} else {
		item.next = now.Add(job.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[job.Name]; ok {
		return errors.NewAlreadyExists("job", job.Name)
	}

	heap.Push(&s.heap, item)
	s.byName[job.Name] = item
	s.signalWakeup()

	log.Debug("job registered", "job", job.Name, "next_run", item.next)
	return nil
}

// Remove takes a job out of the schedule.
//
// A job that is currently executing finishes its run and is dropped
// when the run completes.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byName[name]
	if !ok {
		return
	}

	item.removed = true

	if !item.running {
		if item.index >= 0 {
			heap.Remove(&s.heap, item.index)
		}
		delete(s.byName, name)
	}
	// A running item stays in byName so finish can clean it up.

	log.Debug("job removed", "job", name, "was_running", item.running)
}

// RunNow schedules the named job to fire immediately, ahead of its
// regular cadence. Returns false if the job is unknown.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byName[name]
	if !ok || item.removed {
		return false
	}

	if !item.running && item.index >= 0 {
		item.next = time.Now()
		heap.Fix(&s.heap, item.index)
		s.signalWakeup()
	}
	return true
}

// NextRun returns the next scheduled run time for a job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byName[name]
	if !ok || item.removed {
		return time.Time{}, false
	}
	return item.next, true
}

// Count returns the number of scheduled jobs.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.byName {
		if !item.removed {
			count++
		}
	}
	return count
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start launches the worker and the schedule loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.worker(ctx)

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Info("maintenance scheduler started",
		"jobs", s.Count(),
		"tick", s.tickInterval)
}

// Stop stops the scheduler, waiting up to the drain timeout for an
// in-flight job to finish. After the timeout the job context is
// cancelled and the job unwinds on its own.
func (s *Scheduler) Stop() {
	log.Info("maintenance scheduler stopping")

	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("maintenance scheduler stopped")
	case <-time.After(s.drainTimeout):
		log.Warn("maintenance scheduler drain timeout",
			"active", s.active.Load())
	}

	s.cancel()
}

// =============================================================================
// Schedule Loop
// =============================================================================

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processDue()
		case <-s.wakeup:
			s.processDue()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Scheduler) processDue() {
	now := time.Now()

	// One load check covers the whole batch of due jobs. Taken before
	// the scheduler lock so the hook can lock freely.
	hold := s.deferFunc != nil && s.deferFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		next := s.heap.Peek()

		// Stop if the next item isn't due yet
		if next.next.After(now) {
			break
		}

		item := heap.Pop(&s.heap).(*jobItem)

		// Skip and clean up removed items
		if item.removed {
			delete(s.byName, item.name)
			continue
		}

		if hold {
			// Load hook says maintenance should wait. Retry on a
			// later tick once load drops.
			item.next = now.Add(s.tickInterval)
			heap.Push(&s.heap, item)
			s.deferred.Add(1)
			continue
		}

		item.running = true

		select {
		case s.work <- item:
		default:
			// Worker backlog full. Retry on the next tick.
			item.next = now.Add(s.tickInterval)
			item.running = false
			heap.Push(&s.heap, item)
		}
	}
}

// =============================================================================
// Worker
// =============================================================================

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case item := <-s.work:
			err := s.executeWithRecovery(ctx, item)
			s.finish(item, err)
		case <-s.shutdown:
			return
		}
	}
}

// executeWithRecovery runs a job, converting a panic into an error.
func (s *Scheduler) executeWithRecovery(ctx context.Context, item *jobItem) (err error) {
	s.active.Add(1)

	defer func() {
		s.active.Add(-1)

		if r := recover(); r != nil {
			log.Error("panic in maintenance job",
				"job", item.name,
				"panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return item.run(ctx)
}

// finish reschedules a completed job and updates its counters.
func (s *Scheduler) finish(item *jobItem, err error) {
	now := time.Now()

	if err != nil {
		log.Warn("maintenance job failed", "job", item.name, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item.runs++
	item.lastRun = now
	if err != nil {
		item.errs++
		item.lastErr = err.Error()
	}

	if item.removed {
		delete(s.byName, item.name)
		// Item is already out of the heap (popped in processDue)
		return
	}

	if item.sched != nil {
		item.next = item.sched.Next(now)
	} else {
		item.next = now.Add(item.interval)
	}
	item.running = false

	if item.index < 0 {
		heap.Push(&s.heap, item)
	} else {
		heap.Fix(&s.heap, item.index)
	}

	s.signalWakeup()
}

// =============================================================================
// Stats
// =============================================================================

// JobStats describes one registered job.
type JobStats struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	Errors    int64     `json:"errors"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run"`
}

// Stats is a point-in-time scheduler snapshot.
type Stats struct {
	Jobs     []JobStats `json:"jobs"`
	Deferred int64      `json:"deferred"`
	Active   int        `json:"active"`
}

// Stats returns a snapshot of all registered jobs, sorted by name.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobStats, 0, len(s.byName))
	for _, item := range s.byName {
		if item.removed {
			continue
		}
		jobs = append(jobs, JobStats{
			Name:      item.name,
			Runs:      item.runs,
			Errors:    item.errs,
			Running:   item.running,
			LastRun:   item.lastRun,
			LastError: item.lastErr,
			NextRun:   item.next,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return Stats{
		Jobs:     jobs,
		Deferred: s.deferred.Load(),
		Active:   int(s.active.Load()),
	}
}

func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
		// Already signaled
	}
}
