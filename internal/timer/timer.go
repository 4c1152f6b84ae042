// Package timer provides a cancellable, restartable one-shot timer.
package timer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExpired is returned by Race when the deadline fires first
var ErrExpired = errors.New("timer expired")

// Timer runs a callback once after a delay. Reset cancels any pending run
// before scheduling a new one, so at most one callback is ever pending.
type Timer struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

// New creates an idle timer
func New() *Timer {
	return &Timer{}
}

// Reset cancels any pending callback and schedules fn after d
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			// superseded by Reset or Stop after the runtime already fired us
			t.mu.Unlock()
			return
		}
		t.t = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending callback. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t == nil {
		return false
	}
	t.t.Stop()
	t.t = nil
	t.gen++
	return true
}

// Pending reports whether a callback is scheduled and has not fired
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil
}

// Race runs fn and returns its result unless d elapses first, in which case
// it returns ErrExpired. fn receives a context that is cancelled when the
// race is lost so it can abandon its work.
func Race[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	expired := make(chan struct{})

	deadline := New()
	deadline.Reset(d, func() { close(expired) })
	defer deadline.Stop()

	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-expired:
		return zero, ErrExpired
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
