package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/resolver"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// stubDevice opens handles that load instantly unless their URL is in broken
type stubDevice struct {
	mu     sync.Mutex
	broken map[string]bool
	opened []*stubHandle
}

func newStubDevice() *stubDevice {
	return &stubDevice{broken: make(map[string]bool)}
}

func (d *stubDevice) Open(url string) (audio.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &stubHandle{url: url, broken: d.broken[url], done: make(chan struct{})}
	d.opened = append(d.opened, h)
	return h, nil
}

func (d *stubDevice) SetVolume(float64) {}
func (d *stubDevice) Volume() float64 { return 1 }
func (d *stubDevice) Close() error { return nil }

func (d *stubDevice) breakURL(url string) {
	d.mu.Lock()
	d.broken[url] = true
	d.mu.Unlock()
}

// last returns the most recently opened handle
func (d *stubDevice) last() *stubHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opened) == 0 {
		return nil
	}
	return d.opened[len(d.opened)-1]
}

func (d *stubDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

type stubHandle struct {
	url    string
	broken bool
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	loaded  bool
	playing bool
}

func (h *stubHandle) URL() string { return h.url }

func (h *stubHandle) Load(ctx context.Context) error {
	if h.broken {
		return errors.New("403 forbidden")
	}
	h.mu.Lock()
	h.loaded = true
	h.mu.Unlock()
	return nil
}

func (h *stubHandle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

func (h *stubHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = true
	return nil
}

func (h *stubHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	return nil
}

func (h *stubHandle) Stop() error { return h.Pause() }

func (h *stubHandle) Unload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.loaded = false
}

func (h *stubHandle) Seek(time.Duration) error { return nil }
func (h *stubHandle) Position() time.Duration { return 0 }
func (h *stubHandle) Duration() time.Duration { return 3 * time.Minute }
func (h *stubHandle) SetRate(float64) error { return nil }
func (h *stubHandle) SetProcessor(audio.Processor) {}
func (h *stubHandle) Format() audio.Format { return audio.DefaultFormat }
func (h *stubHandle) Done() <-chan struct{} { return h.done }
func (h *stubHandle) finish() { h.once.Do(func() { close(h.done) }) }

func (h *stubHandle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// stubResolver maps ids to URLs. Ids in failing fail, ids in gates block
// until their channel is closed.
type stubResolver struct {
	mu      sync.Mutex
	failing map[string]bool
	gates   map[string]chan struct{}
	calls   map[string]int
	vias    []types.Origin
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		failing: make(map[string]bool),
		gates:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
	}
}

func urlFor(id string) string { return "http://cdn/" + id + ".mp3" }

func (r *stubResolver) Resolve(ctx context.Context, t *types.Track) (resolver.Resolution, error) {
	r.mu.Lock()
	r.calls[t.ID]++
	fail, gate := r.failing[t.ID], r.gates[t.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return resolver.Resolution{}, ctx.Err()
		}
	}
	if fail {
		return resolver.Resolution{}, resolver.ErrResolutionFailed
	}
	if u := t.CachedURL(time.Now()); u != "" {
		return resolver.Resolution{URL: u, Strategy: resolver.StrategyCache, ResolvedAt: t.ResolvedAt, ExpiresAt: t.ExpiresAt}, nil
	}
	now := time.Now()
	return resolver.Resolution{URL: urlFor(t.ID), Strategy: resolver.StrategyPrimary, ResolvedAt: now, ExpiresAt: now.Add(types.URLTTL)}, nil
}

func (r *stubResolver) ResolveVia(ctx context.Context, t *types.Track, origin types.Origin) (resolver.Resolution, error) {
	r.mu.Lock()
	r.vias = append(r.vias, origin)
	r.mu.Unlock()
	now := time.Now()
	return resolver.Resolution{URL: "http://kw/" + t.ID + ".mp3", Strategy: resolver.StrategySecondary, ResolvedAt: now, ExpiresAt: now.Add(types.URLTTL)}, nil
}

func (r *stubResolver) fail(id string) {
	r.mu.Lock()
	r.failing[id] = true
	r.mu.Unlock()
}

func (r *stubResolver) gate(id string) chan struct{} {
	ch := make(chan struct{})
	r.mu.Lock()
	r.gates[id] = ch
	r.mu.Unlock()
	return ch
}

func (r *stubResolver) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

type stubFavorites struct {
	mu    sync.Mutex
	likes map[string]bool
	liked []string
}

func (f *stubFavorites) Like(ctx context.Context, id string, liked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.likes == nil {
		f.likes = make(map[string]bool)
	}
	f.likes[id] = liked
	return nil
}

func (f *stubFavorites) LikedList(ctx context.Context, uid string) ([]string, error) {
	return f.liked, nil
}

func (f *stubFavorites) state(id string) (liked, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	liked, ok = f.likes[id]
	return liked, ok
}
