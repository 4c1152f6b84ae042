// Package sleeptimer stops playback after a duration, a number of songs, or
// at the end of the playback list.
package sleeptimer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/logger"
	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// Kind is the sleep timer mode
type Kind string

const (
	KindNone  Kind = "none"
	KindTime  Kind = "time"
	KindSongs Kind = "songs"
	KindEnd   Kind = "end"
)

// State is the persisted sleep timer state
type State struct {
	Kind      Kind      `json:"type"`
	Value     int       `json:"value"`
	EndTime   time.Time `json:"endTime,omitempty"`
	Remaining int       `json:"remainingSongs,omitempty"`
}

// Active reports whether a timer is set
func (s State) Active() bool {
	return s.Kind != "" && s.Kind != KindNone
}

// Pauser is what the timer stops when it fires
type Pauser interface {
	Pause() error
	Playing() bool
}

// Timer is the sleep timer. Its state survives restarts through the store.
type Timer struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	player Pauser
	store  store.Store
	log    *zap.Logger

	now  func() time.Time
	tick time.Duration
	// pauseRetry bounds how long a refused pause is retried
	pauseRetry time.Duration
	// onStop is called after StopPlayback; used to notify clients
	onStop func()
}

// New creates an inactive timer
func New(player Pauser, st store.Store, log *zap.Logger) *Timer {
	return &Timer{
		state:  State{Kind: KindNone},
		player: player,
		store:  st,
		log:    logger.OrNop(log).Named("sleeptimer"),
		now:    time.Now,
		tick:   time.Second,

		pauseRetry: 30 * time.Second,
	}
}

// OnStop registers a callback run each time the timer stops playback
func (t *Timer) OnStop(fn func()) {
	t.mu.Lock()
	t.onStop = fn
	t.mu.Unlock()
}

// State returns the current state
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns the time left on a time based timer
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Kind != KindTime {
		return 0
	}
	return max(0, t.state.EndTime.Sub(t.now()))
}

// SetByTime stops playback after the given minutes. It returns false for a
// non-positive duration, which clears any existing timer.
func (t *Timer) SetByTime(ctx context.Context, minutes int) bool {
	t.Clear(ctx)
	if minutes <= 0 {
		return false
	}
	t.mu.Lock()
	t.state = State{Kind: KindTime, Value: minutes, EndTime: t.now().Add(time.Duration(minutes) * time.Minute)}
	t.startLocked()
	state := t.state
	t.mu.Unlock()

	t.persist(ctx, state)
	t.log.Info("sleep timer set", zap.Int("minutes", minutes))
	return true
}

// SetBySongs stops playback after n more song changes
func (t *Timer) SetBySongs(ctx context.Context, n int) bool {
	t.Clear(ctx)
	if n <= 0 {
		return false
	}
	t.mu.Lock()
	t.state = State{Kind: KindSongs, Value: n, Remaining: n}
	state := t.state
	t.mu.Unlock()

	t.persist(ctx, state)
	t.log.Info("sleep timer set", zap.Int("songs", n))
	return true
}

// SetAtListEnd stops playback when the last entry of the list finishes
func (t *Timer) SetAtListEnd(ctx context.Context) {
	t.Clear(ctx)
	t.mu.Lock()
	t.state = State{Kind: KindEnd}
	state := t.state
	t.mu.Unlock()

	t.persist(ctx, state)
	t.log.Info("sleep timer set at list end")
}

// Clear cancels the timer
func (t *Timer) Clear(ctx context.Context) {
	t.mu.Lock()
	t.stopLocked()
	t.state = State{Kind: KindNone}
	state := t.state
	t.mu.Unlock()

	t.persist(ctx, state)
}

// HandleSongChange does the bookkeeping for a successful track transition.
// isLast reports whether the new current entry is the last of the list.
func (t *Timer) HandleSongChange(ctx context.Context, isLast bool, mode types.PlayMode) {
	t.mu.Lock()
	switch t.state.Kind {
	case KindSongs:
		t.state.Remaining--
		state := t.state
		t.mu.Unlock()

		t.persist(ctx, state)
		t.log.Debug("song counted", zap.Int("remaining", state.Remaining))
		if state.Remaining <= 0 {
			t.StopPlayback(ctx)
		}
		return
	case KindEnd:
		if isLast && mode != types.PlayModeLoop {
			t.state = State{Kind: KindSongs, Value: 1, Remaining: 1}
			state := t.state
			t.mu.Unlock()

			t.persist(ctx, state)
			t.log.Debug("last entry reached, stopping after it")
			return
		}
	}
	t.mu.Unlock()
}

// StopPlayback pauses the player and clears the timer. A refused pause is
// retried until it succeeds or nothing is playing.
func (t *Timer) StopPlayback(ctx context.Context) {
	t.log.Info("sleep timer fired")
	if err := t.pause(ctx); err != nil {
		t.log.Error("failed to pause playback", zap.Error(err))
	}
	t.Clear(ctx)

	t.mu.Lock()
	fn := t.onStop
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Timer) pause(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = t.pauseRetry

	return backoff.Retry(func() error {
		err := t.player.Pause()
		if err != nil && t.player.Playing() {
			t.log.Debug("pause refused, retrying", zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// Restore loads the persisted state. A time based timer whose deadline has
// passed is cleared.
func (t *Timer) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	var state State
	found, err := store.GetOr(ctx, t.store, store.KeySleepTimer, &state)
	if err != nil || !found || !state.Active() {
		return err
	}

	if state.Kind == KindTime && !t.now().Before(state.EndTime) {
		t.Clear(ctx)
		return nil
	}

	t.mu.Lock()
	t.stopLocked()
	t.state = state
	if state.Kind == KindTime {
		t.startLocked()
	}
	t.mu.Unlock()
	return nil
}

// Close stops the polling goroutine without touching persisted state
func (t *Timer) Close() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

// startLocked polls the deadline once per tick
func (t *Timer) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	tick := t.tick

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if t.expired(ctx) {
					t.StopPlayback(context.Background())
					return
				}
			}
		}
	}()
}

func (t *Timer) expired(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	return t.state.Kind == KindTime && !t.now().Before(t.state.EndTime)
}

func (t *Timer) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Timer) persist(ctx context.Context, state State) {
	if t.store == nil {
		return
	}
	if err := t.store.Set(ctx, store.KeySleepTimer, state); err != nil {
		t.log.Warn("failed to persist sleep timer", zap.Error(err))
	}
}
