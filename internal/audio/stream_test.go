package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeCall struct {
	url   string
	start time.Duration
	rate  float64
}

// scriptedDecoder writes chunks of PCM, then blocks until release is closed
type scriptedDecoder struct {
	mu       sync.Mutex
	calls    []decodeCall
	chunks   [][]byte
	release  chan struct{}
	probeErr error
}

func (d *scriptedDecoder) Probe(ctx context.Context, url string) (time.Duration, error) {
	if d.probeErr != nil {
		return 0, d.probeErr
	}
	return time.Minute, nil
}

func (d *scriptedDecoder) DecodeFrom(ctx context.Context, url string, w io.Writer, f Format, start time.Duration, rate float64) error {
	d.mu.Lock()
	d.calls = append(d.calls, decodeCall{url: url, start: start, rate: rate})
	chunks, release := d.chunks, d.release
	d.mu.Unlock()

	for _, c := range chunks {
		if _, err := w.Write(append([]byte(nil), c...)); err != nil {
			return err
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *scriptedDecoder) decodeCalls() []decodeCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]decodeCall(nil), d.calls...)
}

type memOutput struct {
	mu      sync.Mutex
	written []byte
	paused  bool
	flushes int
	volume  float64
}

func (o *memOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written = append(o.written, p...)
	return len(p), nil
}

func (o *memOutput) Pause() { o.mu.Lock(); o.paused = true; o.mu.Unlock() }
func (o *memOutput) Resume() { o.mu.Lock(); o.paused = false; o.mu.Unlock() }
func (o *memOutput) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushes++
	o.paused = false
}
func (o *memOutput) Buffered() int { return 0 }
func (o *memOutput) SetVolume(v float64) { o.mu.Lock(); o.volume = v; o.mu.Unlock() }
func (o *memOutput) Volume() float64 { o.mu.Lock(); defer o.mu.Unlock(); return o.volume }
func (o *memOutput) Format() Format { return DefaultFormat }
func (o *memOutput) Close() error { return nil }
func (o *memOutput) bytesWritten() int { o.mu.Lock(); defer o.mu.Unlock(); return len(o.written) }
func (o *memOutput) isPaused() bool { o.mu.Lock(); defer o.mu.Unlock(); return o.paused }

type countingProcessor struct {
	mu    sync.Mutex
	sizes []int
}

func (p *countingProcessor) Process(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, len(pcm))
}

func TestStreamHandleRequiresLoad(t *testing.T) {
	dev := newStreamDevice(&memOutput{}, &scriptedDecoder{}, nil)
	h, err := dev.Open("http://cdn/1.mp3")
	require.NoError(t, err)

	assert.ErrorIs(t, h.Play(), ErrNotLoaded)
	assert.ErrorIs(t, h.Seek(time.Second), ErrNotLoaded)

	_, err = dev.Open("")
	assert.Error(t, err)
}

func TestStreamHandleLoadError(t *testing.T) {
	dev := newStreamDevice(&memOutput{}, &scriptedDecoder{probeErr: errors.New("404")}, nil)
	h, err := dev.Open("http://cdn/gone.mp3")
	require.NoError(t, err)
	assert.Error(t, h.Load(context.Background()))
	assert.False(t, h.Loaded())
}

func TestStreamHandlePlaysThroughToDone(t *testing.T) {
	out := &memOutput{}
	dec := &scriptedDecoder{chunks: [][]byte{make([]byte, 4096), make([]byte, 1001), make([]byte, 3)}}
	dev := newStreamDevice(out, dec, nil)

	h, err := dev.Open("http://cdn/1.mp3")
	require.NoError(t, err)
	require.NoError(t, h.Load(context.Background()))
	assert.Equal(t, time.Minute, h.Duration())

	proc := &countingProcessor{}
	h.SetProcessor(proc)
	require.NoError(t, h.Play())

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle never reported done")
	}
	assert.False(t, h.Playing())
	assert.Equal(t, time.Minute, h.Position())

	// 5100 bytes, written as whole 4-byte frames
	assert.Equal(t, 5100, out.bytesWritten())
	proc.mu.Lock()
	for _, n := range proc.sizes {
		assert.Zero(t, n%4, "processor saw a partial frame")
	}
	proc.mu.Unlock()
}

func TestStreamHandleSeekRestartsDecode(t *testing.T) {
	out := &memOutput{}
	dec := &scriptedDecoder{release: make(chan struct{})}
	dev := newStreamDevice(out, dec, nil)

	h, err := dev.Open("http://cdn/1.mp3")
	require.NoError(t, err)
	require.NoError(t, h.Load(context.Background()))
	require.NoError(t, h.Play())

	require.NoError(t, h.Seek(20*time.Second))
	require.NoError(t, h.SetRate(1.5))

	require.Eventually(t, func() bool { return len(dec.decodeCalls()) == 3 }, time.Second, 5*time.Millisecond)
	calls := dec.decodeCalls()
	assert.Equal(t, time.Duration(0), calls[0].start)
	assert.Equal(t, 20*time.Second, calls[1].start)
	assert.Equal(t, 1.5, calls[2].rate)
	assert.GreaterOrEqual(t, h.Position(), 20*time.Second)

	select {
	case <-h.Done():
		t.Fatal("superseded decode runs must not end the handle")
	default:
	}
	h.Unload()
}

func TestStreamHandlePauseKeepsPosition(t *testing.T) {
	out := &memOutput{}
	dec := &scriptedDecoder{release: make(chan struct{})}
	dev := newStreamDevice(out, dec, nil)

	h, err := dev.Open("http://cdn/1.mp3")
	require.NoError(t, err)
	require.NoError(t, h.Load(context.Background()))
	require.NoError(t, h.Play())
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, h.Pause())
	assert.True(t, out.isPaused())
	pos := h.Position()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, pos, h.Position())

	require.NoError(t, h.Play())
	assert.False(t, out.isPaused())
	assert.Len(t, dec.decodeCalls(), 1, "resume must not restart the decoder")
	h.Unload()
}

func TestStreamDeviceSingleAudibleHandle(t *testing.T) {
	out := &memOutput{}
	dec := &scriptedDecoder{release: make(chan struct{})}
	dev := newStreamDevice(out, dec, nil)
	ctx := context.Background()

	a, _ := dev.Open("http://cdn/a.mp3")
	b, _ := dev.Open("http://cdn/b.mp3")
	require.NoError(t, a.Load(ctx))
	require.NoError(t, b.Load(ctx))

	require.NoError(t, a.Play())
	require.NoError(t, b.Play())
	assert.False(t, a.Playing())
	assert.True(t, b.Playing())

	dev.SetVolume(0.3)
	assert.Equal(t, 0.3, dev.Volume())
	require.NoError(t, dev.Close())
	assert.False(t, b.Loaded())
}
