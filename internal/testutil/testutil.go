// Package testutil provides shared test helpers.
//
// Calling t.Fatal or t.FailNow from a goroutine only exits that
// goroutine, not the test, so concurrent tests collect errors on a
// channel instead and report them from the test goroutine.
package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// Helper collects errors from test goroutines.
//
// Usage:
//
//	h := testutil.NewHelper(t)
//	defer h.Wait()
//
//	for i := 0; i < 10; i++ {
//	    h.Add(1)
//	    go func(id int) {
//	        defer h.Done()
//	        if err := doSomething(); err != nil {
//	            h.Errorf("goroutine %d: %v", id, err)
//	        }
//	    }(i)
//	}
type Helper struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
}

// NewHelper creates a goroutine test helper.
func NewHelper(t *testing.T) *Helper {
	return &Helper{
		t:      t,
		errors: make(chan error, 100),
	}
}

// Add increments the goroutine counter.
func (h *Helper) Add(delta int) {
	h.wg.Add(delta)
}

// Done decrements the goroutine counter.
func (h *Helper) Done() {
	h.wg.Done()
}

// Errorf records a test error. Safe to call from any goroutine.
func (h *Helper) Errorf(format string, args ...any) {
	select {
	case h.errors <- fmt.Errorf(format, args...):
	default:
		// Buffer full; the test still fails on the recorded errors.
	}
}

// Error records a non-nil error. Safe to call from any goroutine.
func (h *Helper) Error(err error) {
	if err == nil {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Wait waits for all goroutines and reports collected errors. Call it
// via defer right after NewHelper.
func (h *Helper) Wait() {
	h.wg.Wait()
	close(h.errors)

	var failed bool
	for err := range h.errors {
		h.t.Errorf("goroutine error: %v", err)
		failed = true
	}
	if failed {
		h.t.FailNow()
	}
}

// Eventually polls condition until it returns true or the timeout
// expires.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}

// WithTimeout runs fn and fails if it does not return in time.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}
