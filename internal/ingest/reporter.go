package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// reportCapacity bounds how many recent failures the reporter retains.
const reportCapacity = 64

// ErrorReport is one ingestion failure surfaced on the side channel.
// Fire-and-forget writes never return errors to the caller; failures are
// recorded here and exposed through status reporting instead.
type ErrorReport struct {
	Time   time.Time `json:"time"`
	Op     string    `json:"op"`
	TaskID string    `json:"task_id,omitempty"`
	Reason string    `json:"reason"`
}

// Reporter collects ingestion failures without blocking the write path.
type Reporter struct {
	mu     sync.Mutex
	ring   []ErrorReport
	next   int
	filled bool

	total    atomic.Int64
	onReport func(ErrorReport)
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{
		ring: make([]ErrorReport, reportCapacity),
	}
}

// SetOnReport sets a callback fired for every recorded failure. The
// callback runs on the reporting goroutine and must not block.
func (r *Reporter) SetOnReport(fn func(ErrorReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReport = fn
}

// Record stores one failure, evicting the oldest when full.
func (r *Reporter) Record(op, taskID, reason string) {
	report := ErrorReport{
		Time:   time.Now().UTC(),
		Op:     op,
		TaskID: taskID,
		Reason: reason,
	}
	r.total.Add(1)

	r.mu.Lock()
	r.ring[r.next] = report
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.filled = true
	}
	fn := r.onReport
	r.mu.Unlock()

	if fn != nil {
		fn(report)
	}
}

// Recent returns up to n failures, newest first.
func (r *Reporter) Recent(n int) []ErrorReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.filled {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]ErrorReport, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Total returns the number of failures recorded since start.
func (r *Reporter) Total() int64 {
	return r.total.Load()
}
