package sleeptimer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// countingPauser refuses the next `refuse` pauses
type countingPauser struct {
	pauses  atomic.Int32
	refuse  atomic.Int32
	playing atomic.Bool
}

func (p *countingPauser) Pause() error {
	if p.refuse.Load() > 0 {
		p.refuse.Add(-1)
		return errors.New("busy")
	}
	p.pauses.Add(1)
	p.playing.Store(false)
	return nil
}

func (p *countingPauser) Playing() bool { return p.playing.Load() }

func newTestTimer(t *testing.T) (*Timer, *countingPauser, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	p := &countingPauser{}
	tm := New(p, st, nil)
	tm.tick = 5 * time.Millisecond
	t.Cleanup(tm.Close)
	return tm, p, st
}

func TestSongsTimerStopsAtZero(t *testing.T) {
	tm, p, st := newTestTimer(t)
	ctx := context.Background()

	require.True(t, tm.SetBySongs(ctx, 2))

	tm.HandleSongChange(ctx, false, types.PlayModeSequential)
	assert.Equal(t, 1, tm.State().Remaining)
	assert.Zero(t, p.pauses.Load())

	var persisted State
	require.NoError(t, st.Get(ctx, store.KeySleepTimer, &persisted))
	assert.Equal(t, 1, persisted.Remaining)

	tm.HandleSongChange(ctx, false, types.PlayModeSequential)
	assert.Equal(t, int32(1), p.pauses.Load())
	assert.Equal(t, KindNone, tm.State().Kind)
}

func TestEndTimerConvertsOnLastEntry(t *testing.T) {
	tm, p, _ := newTestTimer(t)
	ctx := context.Background()

	tm.SetAtListEnd(ctx)
	tm.HandleSongChange(ctx, false, types.PlayModeSequential)
	assert.Equal(t, KindEnd, tm.State().Kind)

	tm.HandleSongChange(ctx, true, types.PlayModeLoop)
	assert.Equal(t, KindEnd, tm.State().Kind, "loop mode never reaches the end")

	tm.HandleSongChange(ctx, true, types.PlayModeSequential)
	assert.Equal(t, State{Kind: KindSongs, Value: 1, Remaining: 1}, tm.State())

	tm.HandleSongChange(ctx, false, types.PlayModeSequential)
	assert.Equal(t, int32(1), p.pauses.Load())
}

func TestTimeTimerFires(t *testing.T) {
	tm, p, _ := newTestTimer(t)
	ctx := context.Background()

	var stopped atomic.Bool
	tm.OnStop(func() { stopped.Store(true) })

	base := time.Now()
	var offset atomic.Int64
	tm.now = func() time.Time { return base.Add(time.Duration(offset.Load())) }

	require.True(t, tm.SetByTime(ctx, 1))
	assert.Equal(t, time.Minute, tm.Remaining())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, p.pauses.Load())

	offset.Store(int64(time.Minute))
	require.Eventually(t, stopped.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), p.pauses.Load())
	assert.Equal(t, KindNone, tm.State().Kind)
	assert.Zero(t, tm.Remaining())
}

func TestInvalidValuesClear(t *testing.T) {
	tm, _, _ := newTestTimer(t)
	ctx := context.Background()

	tm.SetBySongs(ctx, 3)
	assert.False(t, tm.SetByTime(ctx, 0))
	assert.False(t, tm.State().Active())
	assert.False(t, tm.SetBySongs(ctx, -1))
}

func TestRestore(t *testing.T) {
	tm, _, st := newTestTimer(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, store.KeySleepTimer, State{Kind: KindSongs, Value: 4, Remaining: 3}))
	require.NoError(t, tm.Restore(ctx))
	assert.Equal(t, 3, tm.State().Remaining)

	require.NoError(t, st.Set(ctx, store.KeySleepTimer, State{Kind: KindTime, Value: 1, EndTime: time.Now().Add(-time.Second)}))
	require.NoError(t, tm.Restore(ctx))
	assert.Equal(t, KindNone, tm.State().Kind, "expired deadlines are dropped")

	require.NoError(t, st.Delete(ctx, store.KeySleepTimer))
	require.NoError(t, tm.Restore(ctx))
}

func TestStopPlaybackRetriesRefusedPause(t *testing.T) {
	tm, p, _ := newTestTimer(t)
	ctx := context.Background()
	p.playing.Store(true)
	p.refuse.Store(2)

	require.True(t, tm.SetBySongs(ctx, 1))
	tm.HandleSongChange(ctx, false, types.PlayModeSequential)

	assert.Equal(t, int32(1), p.pauses.Load())
	assert.False(t, p.Playing())
	assert.Equal(t, KindNone, tm.State().Kind)
}

func TestStopPlaybackNothingPlaying(t *testing.T) {
	tm, p, _ := newTestTimer(t)
	p.refuse.Store(100)

	tm.StopPlayback(context.Background())
	assert.Zero(t, p.pauses.Load())
	assert.Equal(t, int32(99), p.refuse.Load(), "a refused pause with nothing playing is not retried")
	assert.Equal(t, KindNone, tm.State().Kind)
}
