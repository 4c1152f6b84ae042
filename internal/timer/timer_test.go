package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetFiresOnce(t *testing.T) {
	tm := New()
	var calls atomic.Int32
	fired := make(chan struct{}, 1)

	tm.Reset(10*time.Millisecond, func() {
		calls.Add(1)
		fired <- struct{}{}
	})
	assert.True(t, tm.Pending())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, tm.Pending())
}

func TestResetCancelsPending(t *testing.T) {
	tm := New()
	var got atomic.Int32
	done := make(chan struct{})

	tm.Reset(30*time.Millisecond, func() { got.Store(1) })
	tm.Reset(30*time.Millisecond, func() { got.Store(2) })
	tm.Reset(30*time.Millisecond, func() {
		got.Store(3)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), got.Load())
}

func TestStop(t *testing.T) {
	tm := New()
	var fired atomic.Bool

	assert.False(t, tm.Stop(), "idle timer has nothing to stop")

	tm.Reset(20*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestRaceReturnsResult(t *testing.T) {
	v, err := Race(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRacePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Race(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRaceExpires(t *testing.T) {
	cancelled := make(chan struct{})
	start := time.Now()

	_, err := Race(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(cancelled)
		return "late", nil
	})

	assert.ErrorIs(t, err, ErrExpired)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("losing call was not cancelled")
	}
}
