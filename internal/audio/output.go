package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

const (
	bytesPerSample = 2 // s16le

	// ~100ms at 44.1kHz stereo keeps pause and seek responsive
	maxBufferSize = 17640
)

// OtoOutput is the process-wide PCM sink. oto allows a single context per
// process, so every stream handle writes through this one output.
type OtoOutput struct {
	context *oto.Context
	player  oto.Player
	format  Format

	mu     sync.Mutex
	cond   *sync.Cond
	buffer *bytes.Buffer
	volume float64
	paused bool
	closed bool
}

// NewOtoOutput creates the oto context for f and waits for the device to be ready
func NewOtoOutput(f Format) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(f.SampleRate, f.Channels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o := newOtoOutput(f)
	o.context = ctx
	o.player = ctx.NewPlayer(o)
	return o, nil
}

func newOtoOutput(f Format) *OtoOutput {
	o := &OtoOutput{
		format: f,
		buffer: &bytes.Buffer{},
		volume: 1.0,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Read feeds the oto player. It blocks while paused and emits silence on underrun.
func (o *OtoOutput) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.paused && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return 0, io.EOF
	}

	if o.buffer.Len() == 0 {
		clear(p)
		return len(p), nil
	}

	n, err := o.buffer.Read(p)
	if err != nil {
		return n, err
	}
	if o.volume < 1.0 {
		scaleVolume(p[:n], o.volume)
	}
	return n, nil
}

// scaleVolume scales s16le samples in place
func scaleVolume(data []byte, vol float64) {
	if vol >= 1.0 {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

// Write queues PCM, blocking while the buffer is full so decoding is paced by playback
func (o *OtoOutput) Write(data []byte) (int, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if o.buffer.Len() < maxBufferSize {
			break
		}
		o.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	defer o.mu.Unlock()

	n, err := o.buffer.Write(data)
	if err != nil {
		return n, err
	}
	if o.player != nil && !o.player.IsPlaying() && !o.paused {
		o.player.Play()
	}
	return n, nil
}

// Buffered returns the number of queued bytes not yet handed to the device
func (o *OtoOutput) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Len()
}

// SetVolume sets the output volume, clamped to [0, 1]
func (o *OtoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = min(max(v, 0), 1)
}

func (o *OtoOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

func (o *OtoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	// set before pausing the player so a concurrent Write does not restart it
	o.paused = true
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

func (o *OtoOutput) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.cond.Broadcast()
	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}
}

// Flush drops queued PCM and clears the paused flag
func (o *OtoOutput) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.cond.Broadcast()
	if o.player != nil {
		o.player.Pause()
	}
	o.buffer.Reset()
}

func (o *OtoOutput) Format() Format {
	return o.format
}

func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.cond.Broadcast()
	if o.player != nil {
		return o.player.Close()
	}
	return nil
}

var _ io.ReadWriter = (*OtoOutput)(nil)
