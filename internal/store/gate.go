package store

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/execledger/execledger/internal/errors"
)

// ============================================================================
// Connection gate
// ============================================================================

// Gate bounds the number of operations running against the embedded engine
// at once. DuckDB handles are cheap but analytical scans are not; the gate
// keeps a fixed number of slots and makes callers wait for one instead of
// piling concurrent scans onto the same file.
type Gate struct {
	sem     *semaphore.Weighted
	size    int
	timeout time.Duration

	inUse    atomic.Int64
	acquired atomic.Uint64
	timeouts atomic.Uint64
}

// GateStats is a point-in-time snapshot of gate usage.
type GateStats struct {
	Size     int    `json:"size"`
	InUse    int64  `json:"in_use"`
	Acquired uint64 `json:"acquired"`
	Timeouts uint64 `json:"timeouts"`
}

// NewGate creates a gate with the given slot count and acquire timeout.
func NewGate(size int, timeout time.Duration) *Gate {
	if size <= 0 {
		size = 1
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		timeout: timeout,
	}
}

// Run executes fn while holding a gate slot. The slot is released when fn
// returns, panics included. A nil gate runs fn directly.
//
// If no slot frees up within the acquire timeout, Run returns
// errors.ErrPoolExhausted without invoking fn. Cancellation of the caller's
// context is reported as the context error, not as exhaustion.
func (g *Gate) Run(ctx context.Context, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.timeouts.Add(1)
		return errors.Wrapf(errors.ErrPoolExhausted,
			"no slot available after %s (size %d)", g.timeout, g.size)
	}
	defer g.sem.Release(1)

	g.acquired.Add(1)
	g.inUse.Add(1)
	defer g.inUse.Add(-1)

	return fn(ctx)
}

// Stats returns current gate counters.
func (g *Gate) Stats() GateStats {
	if g == nil {
		return GateStats{}
	}
	return GateStats{
		Size:     g.size,
		InUse:    g.inUse.Load(),
		Acquired: g.acquired.Load(),
		Timeouts: g.timeouts.Load(),
	}
}

// Size returns the configured slot count.
func (g *Gate) Size() int {
	if g == nil {
		return 0
	}
	return g.size
}
