package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/execledger/execledger/internal/types"
)

// Queue is a thread-safe circular buffer holding records that await their
// flush to the store. It uses a simple mutex-based approach for correctness.
type Queue struct {
	mu       sync.RWMutex
	data     []*types.ExecutionRecord
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		data:     make([]*types.ExecutionRecord, capacity),
		capacity: int64(capacity),
	}
}

// Push adds a record to the queue.
// Returns false if the queue is full and the record was dropped.
func (q *Queue) Push(rec *types.ExecutionRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= q.capacity {
		q.dropCount.Add(1)
		return false
	}

	idx := q.head % q.capacity
	q.data[idx] = rec
	q.head++
	q.count++
	q.pushCount.Add(1)

	return true
}

// PopN removes and returns up to n oldest records.
func (q *Queue) PopN(n int) []*types.ExecutionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 || n <= 0 {
		return nil
	}

	count := int64(n)
	if count > q.count {
		count = q.count
	}

	result := make([]*types.ExecutionRecord, count)
	for i := int64(0); i < count; i++ {
		idx := (q.tail + i) % q.capacity
		result[i] = q.data[idx]
		q.data[idx] = nil // Clear for GC
	}

	q.tail += count
	q.count -= count
	q.popCount.Add(count)

	return result
}

// Len returns the current number of queued records.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return int(q.count)
}

// Cap returns the capacity of the queue.
func (q *Queue) Cap() int {
	return int(q.capacity)
}

// IsEmpty returns true if the queue is empty.
func (q *Queue) IsEmpty() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.count == 0
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (q *Queue) UsageRatio() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return float64(q.count) / float64(q.capacity)
}

// Clear removes all records from the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.data {
		q.data[i] = nil
	}

	q.head = 0
	q.tail = 0
	q.count = 0
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return QueueStats{
		Capacity:   int(q.capacity),
		Count:      int(q.count),
		UsageRatio: float64(q.count) / float64(q.capacity),
		PushCount:  q.pushCount.Load(),
		PopCount:   q.popCount.Load(),
		DropCount:  q.dropCount.Load(),
	}
}

// QueueStats holds queue statistics.
type QueueStats struct {
	Capacity   int     `json:"capacity"`
	Count      int     `json:"count"`
	UsageRatio float64 `json:"usage_ratio"`
	PushCount  int64   `json:"push_count"`
	PopCount   int64   `json:"pop_count"`
	DropCount  int64   `json:"drop_count"`
}
