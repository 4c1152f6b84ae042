package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/logger"
)

// ErrNotLoaded is returned when a handle is played or seeked before Load succeeded
var ErrNotLoaded = errors.New("stream not loaded")

type pcmDecoder interface {
	Probe(ctx context.Context, url string) (time.Duration, error)
	DecodeFrom(ctx context.Context, url string, w io.Writer, f Format, start time.Duration, rate float64) error
}

type pcmOutput interface {
	io.Writer
	Pause()
	Resume()
	Flush()
	Buffered() int
	SetVolume(v float64)
	Volume() float64
	Format() Format
	Close() error
}

// StreamDevice opens ffmpeg-backed handles that share one oto output.
// At most one handle is audible: playing a handle halts the previous one.
type StreamDevice struct {
	output  pcmOutput
	decoder pcmDecoder
	log     *zap.Logger

	mu     sync.Mutex
	active *StreamHandle
}

// NewStreamDevice creates the shared output for f and locates ffmpeg
func NewStreamDevice(f Format, log *zap.Logger) (*StreamDevice, error) {
	dec, err := NewFFmpegDecoder()
	if err != nil {
		return nil, err
	}
	out, err := NewOtoOutput(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio output: %w", err)
	}
	return newStreamDevice(out, dec, log), nil
}

func newStreamDevice(out pcmOutput, dec pcmDecoder, log *zap.Logger) *StreamDevice {
	return &StreamDevice{output: out, decoder: dec, log: logger.OrNop(log)}
}

func (d *StreamDevice) Open(url string) (Handle, error) {
	if url == "" {
		return nil, errors.New("empty stream url")
	}
	return &StreamHandle{
		dev:  d,
		url:  url,
		rate: 1,
		done: make(chan struct{}),
		log:  d.log.With(zap.String("url", url)),
	}, nil
}

func (d *StreamDevice) SetVolume(v float64) { d.output.SetVolume(v) }

func (d *StreamDevice) Volume() float64 { return d.output.Volume() }

func (d *StreamDevice) Close() error {
	d.mu.Lock()
	active := d.active
	d.active = nil
	d.mu.Unlock()
	if active != nil {
		active.Unload()
	}
	return d.output.Close()
}

func (d *StreamDevice) claim(h *StreamHandle) {
	d.mu.Lock()
	prev := d.active
	d.active = h
	d.mu.Unlock()
	if prev != nil && prev != h {
		prev.halt()
	}
}

func (d *StreamDevice) release(h *StreamHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == h {
		d.active = nil
	}
}

func (d *StreamDevice) isActive(h *StreamHandle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active == h
}

// StreamHandle is one remote stream. Seeking and rate changes restart ffmpeg
// at the current position.
type StreamHandle struct {
	dev *StreamDevice
	url string
	log *zap.Logger

	mu        sync.Mutex
	loaded    bool
	duration  time.Duration
	rate      float64
	playing   bool
	base      time.Duration
	startedAt time.Time
	cancel    context.CancelFunc
	run       uint64
	proc      Processor

	done     chan struct{}
	doneOnce sync.Once
}

func (h *StreamHandle) URL() string { return h.url }

func (h *StreamHandle) Load(ctx context.Context) error {
	dur, err := h.dev.decoder.Probe(ctx, h.url)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = true
	h.duration = dur
	return nil
}

func (h *StreamHandle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

func (h *StreamHandle) Play() error {
	h.mu.Lock()
	if !h.loaded {
		h.mu.Unlock()
		return ErrNotLoaded
	}
	if h.playing {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.dev.claim(h)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		h.startDecodeLocked()
	}
	h.playing = true
	h.startedAt = time.Now()
	h.dev.output.Resume()
	return nil
}

func (h *StreamHandle) Pause() error {
	h.mu.Lock()
	if !h.playing {
		h.mu.Unlock()
		return nil
	}
	h.base = h.positionLocked()
	h.playing = false
	h.mu.Unlock()

	if h.dev.isActive(h) {
		h.dev.output.Pause()
	}
	return nil
}

func (h *StreamHandle) Stop() error {
	h.mu.Lock()
	h.stopDecodeLocked()
	h.playing = false
	h.base = 0
	h.mu.Unlock()

	if h.dev.isActive(h) {
		h.dev.output.Flush()
	}
	return nil
}

// halt is called when another handle takes the output
func (h *StreamHandle) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playing {
		h.base = h.positionLocked()
	}
	h.stopDecodeLocked()
	h.playing = false
}

func (h *StreamHandle) Unload() {
	_ = h.Stop()
	h.mu.Lock()
	h.loaded = false
	h.proc = nil
	h.mu.Unlock()
	h.dev.release(h)
}

func (h *StreamHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		return ErrNotLoaded
	}
	h.base = pos
	h.startedAt = time.Now()
	h.restartLocked()
	return nil
}

func (h *StreamHandle) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("invalid playback rate %v", rate)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rate == rate {
		return nil
	}
	h.base = h.positionLocked()
	h.startedAt = time.Now()
	h.rate = rate
	if h.loaded {
		h.restartLocked()
	}
	return nil
}

func (h *StreamHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionLocked()
}

func (h *StreamHandle) positionLocked() time.Duration {
	pos := h.base
	if h.playing {
		pos += time.Duration(float64(time.Since(h.startedAt)) * h.rate)
	}
	if h.duration > 0 && pos > h.duration {
		pos = h.duration
	}
	return pos
}

func (h *StreamHandle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

func (h *StreamHandle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *StreamHandle) SetProcessor(p Processor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = p
}

func (h *StreamHandle) Format() Format { return h.dev.output.Format() }

func (h *StreamHandle) Done() <-chan struct{} { return h.done }

// restartLocked drops buffered audio and, if playing, decodes again from base.
// A paused handle restarts on the next Play.
func (h *StreamHandle) restartLocked() {
	h.stopDecodeLocked()
	if h.dev.isActive(h) {
		h.dev.output.Flush()
		if !h.playing {
			h.dev.output.Pause()
		}
	}
	if h.playing {
		h.startDecodeLocked()
	}
}

func (h *StreamHandle) stopDecodeLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.run++
}

func (h *StreamHandle) startDecodeLocked() {
	h.run++
	run := h.run
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.decode(ctx, run, h.base, h.rate)
}

func (h *StreamHandle) decode(ctx context.Context, run uint64, start time.Duration, rate float64) {
	sink := &pcmSink{h: h, run: run, frame: h.Format().Channels * bytesPerSample}
	err := h.dev.decoder.DecodeFrom(ctx, h.url, sink, h.Format(), start, rate)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		h.log.Warn("stream decode ended with error", zap.Error(err))
	}

	// let the device drain before reporting the end
	for h.dev.output.Buffered() > 0 && ctx.Err() == nil {
		time.Sleep(20 * time.Millisecond)
	}

	h.mu.Lock()
	if h.run != run {
		h.mu.Unlock()
		return
	}
	h.playing = false
	h.base = h.duration
	h.cancel = nil
	h.mu.Unlock()

	h.doneOnce.Do(func() { close(h.done) })
}

var errStaleRun = errors.New("decode run superseded")

// pcmSink applies the handle's processor on whole frames and forwards to the output
type pcmSink struct {
	h     *StreamHandle
	run   uint64
	frame int
	carry []byte
}

func (s *pcmSink) Write(p []byte) (int, error) {
	s.h.mu.Lock()
	if s.h.run != s.run {
		s.h.mu.Unlock()
		return 0, errStaleRun
	}
	proc := s.h.proc
	s.h.mu.Unlock()

	data := append(s.carry, p...)
	n := len(data)
	if s.frame > 0 {
		n -= n % s.frame
	}
	if n > 0 {
		if proc != nil {
			proc.Process(data[:n])
		}
		if _, err := s.h.dev.output.Write(data[:n]); err != nil {
			return 0, err
		}
	}
	s.carry = append(s.carry[:0:0], data[n:]...)
	return len(p), nil
}
