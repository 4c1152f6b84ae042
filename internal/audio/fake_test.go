package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeDevice records every handle it opens. URLs in failLoad fail to load
// the given number of times before succeeding.
type fakeDevice struct {
	mu       sync.Mutex
	opened   []*fakeHandle
	failLoad map[string]int
	failPlay map[string]int
	loadGate map[string]chan struct{}
	duration time.Duration
	volume   float64
	closed   bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		failLoad: make(map[string]int),
		failPlay: make(map[string]int),
		loadGate: make(map[string]chan struct{}),
		duration: 3 * time.Minute,
		volume:   1,
	}
}

func (d *fakeDevice) Open(url string) (Handle, error) {
	if url == "" {
		return nil, errors.New("empty url")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &fakeHandle{dev: d, url: url, done: make(chan struct{}), rate: 1}
	d.opened = append(d.opened, h)
	return h, nil
}

func (d *fakeDevice) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
}

func (d *fakeDevice) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// gate makes loads of url block until the returned channel is closed
func (d *fakeDevice) gate(url string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan struct{})
	d.loadGate[url] = ch
	return ch
}

func (d *fakeDevice) handles() []*fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeHandle(nil), d.opened...)
}

func (d *fakeDevice) takeFailure(m map[string]int, url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m[url] > 0 {
		m[url]--
		return true
	}
	return false
}

type fakeHandle struct {
	dev  *fakeDevice
	url  string
	done chan struct{}

	mu       sync.Mutex
	loaded   bool
	playing  bool
	unloaded bool
	pos      time.Duration
	rate     float64
	seeks    []time.Duration
	proc     Processor
	loads    int
	stops    int
}

func (h *fakeHandle) URL() string { return h.url }

func (h *fakeHandle) Load(ctx context.Context) error {
	h.mu.Lock()
	h.loads++
	h.mu.Unlock()
	h.dev.mu.Lock()
	gate := h.dev.loadGate[h.url]
	h.dev.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if h.dev.takeFailure(h.dev.failLoad, h.url) {
		return errors.New("load error")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = true
	return nil
}

func (h *fakeHandle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

func (h *fakeHandle) Play() error {
	if h.dev.takeFailure(h.dev.failPlay, h.url) {
		return errors.New("play error")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return ErrNotLoaded
	}
	h.playing = true
	return nil
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	return nil
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.pos = 0
	h.stops++
	return nil
}

func (h *fakeHandle) Unload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.loaded = false
	h.unloaded = true
}

func (h *fakeHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = pos
	h.seeks = append(h.seeks, pos)
	return nil
}

func (h *fakeHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *fakeHandle) Duration() time.Duration { return h.dev.duration }

func (h *fakeHandle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *fakeHandle) SetRate(rate float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rate = rate
	return nil
}

func (h *fakeHandle) SetProcessor(p Processor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = p
}

func (h *fakeHandle) Format() Format { return DefaultFormat }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

// finish simulates the stream playing through
func (h *fakeHandle) finish() { close(h.done) }

type handleState struct {
	loaded   bool
	playing  bool
	unloaded bool
	pos      time.Duration
	rate     float64
	seeks    []time.Duration
	proc     Processor
	loads    int
	stops    int
}

func (h *fakeHandle) snapshot() handleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return handleState{
		loaded:   h.loaded,
		playing:  h.playing,
		unloaded: h.unloaded,
		pos:      h.pos,
		rate:     h.rate,
		seeks:    append([]time.Duration(nil), h.seeks...),
		proc:     h.proc,
		loads:    h.loads,
		stops:    h.stops,
	}
}
