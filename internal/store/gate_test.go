package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/execledger/execledger/internal/errors"
)

func TestGate_BoundsConcurrency(t *testing.T) {
	const size = 4
	gate := NewGate(size, time.Second)

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.Run(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				defer current.Add(-1)

				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > size {
		t.Errorf("gate allowed %d concurrent operations, want <= %d", p, size)
	}

	stats := gate.Stats()
	if stats.Acquired != 50 {
		t.Errorf("expected 50 acquisitions, got %d", stats.Acquired)
	}
	if stats.InUse != 0 {
		t.Errorf("expected 0 in use after completion, got %d", stats.InUse)
	}
}

func TestGate_TimeoutExhausted(t *testing.T) {
	gate := NewGate(1, 20*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go gate.Run(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := gate.Run(context.Background(), func(ctx context.Context) error {
		t.Error("fn must not run when gate is exhausted")
		return nil
	})
	if !errors.Is(err, errors.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	stats := gate.Stats()
	if stats.Timeouts != 1 {
		t.Errorf("expected 1 timeout, got %d", stats.Timeouts)
	}

	close(release)
}

func TestGate_ReleasedOnError(t *testing.T) {
	gate := NewGate(1, 50*time.Millisecond)

	boom := errors.New("boom")
	if err := gate.Run(context.Background(), func(ctx context.Context) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	// Slot must be free again.
	if err := gate.Run(context.Background(), func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Errorf("slot not released after error: %v", err)
	}
}

func TestGate_ReleasedOnPanic(t *testing.T) {
	gate := NewGate(1, 50*time.Millisecond)

	func() {
		defer func() { recover() }()
		gate.Run(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	}()

	if err := gate.Run(context.Background(), func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Errorf("slot not released after panic: %v", err)
	}
}

func TestGate_CallerCancellation(t *testing.T) {
	gate := NewGate(1, time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go gate.Run(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := gate.Run(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, errors.ErrPoolExhausted) {
		t.Error("caller cancellation must not count as exhaustion")
	}
}

func TestGate_Nil(t *testing.T) {
	var gate *Gate

	ran := false
	if err := gate.Run(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("nil gate run: %v", err)
	}
	if !ran {
		t.Error("fn did not run through nil gate")
	}

	if s := gate.Stats(); s.Size != 0 {
		t.Errorf("nil gate stats: %+v", s)
	}
}

func TestStore_PoolExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 1
	cfg.AcquireTimeout = 20 * time.Millisecond
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go store.gate.Run(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	defer close(release)

	_, err = store.CountExecutions(context.Background())
	if !errors.Is(err, errors.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted through store operation, got %v", err)
	}
}
