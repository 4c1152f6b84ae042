package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/logger"
	"github.com/austinkregel/local-media/streamd/internal/media"
	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/timer"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

var (
	// ErrLoad is returned when a URL could not be opened or loaded
	ErrLoad = errors.New("audio load failed")
	// ErrPlayback is returned when a loaded handle refused to play
	ErrPlayback = errors.New("audio playback failed")
	// ErrLockLost is returned by a Load whose lock was reclaimed by a newer operation
	ErrLockLost = errors.New("audio operation lock lost")
)

const (
	DefaultSeekDebounce = 300 * time.Millisecond
	DefaultRetryDelay   = time.Second
	loadAttempts        = 2
)

// State is the transport's playback state
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Options configures a Transport. Zero values select defaults.
type Options struct {
	LockTimeout  time.Duration
	SeekDebounce time.Duration
	RetryDelay   time.Duration
	Media        media.Session
	Store        store.Store
	Preloader    *Preloader
	Events       *Events
	Logger       *zap.Logger
}

// Status is a snapshot of the transport
type Status struct {
	State     State             `json:"state"`
	Track     *types.Track      `json:"track,omitempty"`
	URL       string            `json:"url,omitempty"`
	Position  time.Duration     `json:"position"`
	Duration  time.Duration     `json:"duration"`
	Rate      float64           `json:"rate"`
	Volume    float64           `json:"volume"`
	Equalizer EqualizerSettings `json:"equalizer"`
	LockedBy  string            `json:"lockedBy,omitempty"`
}

// Transport owns the single active device handle. Every mutating operation
// takes the operation lock, so concurrent callers fail fast with ErrLockBusy.
type Transport struct {
	device    Device
	lock      *OperationLock
	events    *Events
	eq        *Equalizer
	media     media.Session
	store     store.Store
	preloader *Preloader
	log       *zap.Logger

	seekDebounce time.Duration
	retryDelay   time.Duration

	mu        sync.Mutex
	handle    Handle
	track     types.Track
	hasTrack  bool
	state     State
	rate      float64
	watchStop chan struct{}

	seekMu     sync.Mutex
	seekTimer  *timer.Timer
	seekToken  *Token
	seekTarget time.Duration
}

// NewTransport creates an idle transport over device
func NewTransport(device Device, opts Options) *Transport {
	log := logger.OrNop(opts.Logger)
	events := opts.Events
	if events == nil {
		events = NewEvents()
	}
	ms := opts.Media
	if ms == nil {
		ms = media.NewNoOpSession()
	}
	t := &Transport{
		device:       device,
		events:       events,
		eq:           NewEqualizer(),
		media:        ms,
		store:        opts.Store,
		preloader:    opts.Preloader,
		log:          log,
		seekDebounce: opts.SeekDebounce,
		retryDelay:   opts.RetryDelay,
		state:        StateIdle,
		rate:         1,
		seekTimer:    timer.New(),
	}
	if t.seekDebounce <= 0 {
		t.seekDebounce = DefaultSeekDebounce
	}
	if t.retryDelay <= 0 {
		t.retryDelay = DefaultRetryDelay
	}
	t.lock = NewOperationLock(opts.LockTimeout, events, log.Named("lock"))
	return t
}

// Events returns the transport's event bus
func (t *Transport) Events() *Events { return t.events }

// Lock exposes the operation lock for inspection
func (t *Transport) Lock() *OperationLock { return t.lock }

// Equalizer returns the equalizer shared by every handle
func (t *Transport) Equalizer() *Equalizer { return t.eq }

// Load replaces the active handle with one for url. On a second failure it
// publishes URLExpired so the owner can re-resolve the track.
func (t *Transport) Load(ctx context.Context, url string, track types.Track, autoplay bool) error {
	tok, err := t.lock.Acquire(OpLoad)
	if err != nil {
		return err
	}
	defer t.lock.Release(tok)

	t.dropPendingSeek()

	t.mu.Lock()
	t.teardownLocked(true)
	t.state = StateLoading
	t.track = track
	t.hasTrack = true
	t.mu.Unlock()

	log := t.log.With(zap.String("track", track.Identity().String()), zap.String("lock", tok.ID))

	var lastErr error
	for attempt := 0; attempt < loadAttempts; attempt++ {
		if attempt > 0 {
			delay := t.retryDelay * time.Duration(attempt)
			log.Warn("load failed, retrying", zap.Error(lastErr), zap.Duration("delay", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				lastErr = fmt.Errorf("%w: %w", ErrLoad, err)
				break
			}
			if !t.lock.Refresh(tok) {
				return fmt.Errorf("%w: during retry", ErrLockLost)
			}
		}
		lastErr = t.loadOnce(ctx, tok, url, track, autoplay)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrLockLost) {
			log.Info("load superseded", zap.Error(lastErr))
			return lastErr
		}
	}

	t.mu.Lock()
	t.state = StateStopped
	t.mu.Unlock()

	log.Error("load gave up", zap.Error(lastErr))
	t.events.Error.Publish(ErrorEvent{Op: OpLoad, Err: lastErr})
	t.events.URLExpired.Publish(URLExpiredEvent{Track: track, Err: lastErr})
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (t *Transport) loadOnce(ctx context.Context, tok Token, url string, track types.Track, autoplay bool) error {
	h, err := t.open(url)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if !h.Loaded() {
		if err := h.Load(ctx); err != nil {
			h.Unload()
			if !t.lock.Holds(tok) {
				return fmt.Errorf("%w: %w", ErrLockLost, err)
			}
			return fmt.Errorf("%w: %w", ErrLoad, err)
		}
	}

	// a newer Load may have reclaimed the lock while h was loading
	t.mu.Lock()
	if !t.lock.Holds(tok) {
		t.mu.Unlock()
		h.Unload()
		return fmt.Errorf("%w: before install", ErrLockLost)
	}
	t.handle = h
	t.state = StateReady
	if t.rate != 1 {
		if err := h.SetRate(t.rate); err != nil {
			t.log.Warn("failed to apply playback rate", zap.Float64("rate", t.rate), zap.Error(err))
		}
	}
	if err := t.attachEqualizerLocked(h); err != nil {
		t.log.Warn("equalizer unavailable for this track", zap.Error(err))
	}
	t.mu.Unlock()

	duration := h.Duration()
	t.publishMetadata(track, url, duration)
	t.events.Load.Publish(LoadEvent{Track: track, URL: url, Duration: duration})

	t.mu.Lock()
	if t.handle != h || !t.lock.Holds(tok) {
		t.mu.Unlock()
		return fmt.Errorf("%w: before play", ErrLockLost)
	}
	if autoplay {
		if err := h.Play(); err != nil {
			t.teardownLocked(true)
			t.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrPlayback, err)
		}
		t.state = StatePlaying
	}
	t.watchLocked(h, track)
	t.mu.Unlock()

	if autoplay {
		t.media.UpdatePlaybackState(media.StatePlaying, 0)
		t.events.Play.Publish(PlayEvent{Track: track})
	}
	return nil
}

func (t *Transport) open(url string) (Handle, error) {
	if t.preloader != nil {
		if h := t.preloader.Take(url); h != nil {
			t.log.Debug("using preloaded handle", zap.String("url", url))
			return h, nil
		}
	}
	return t.device.Open(url)
}

func (t *Transport) attachEqualizerLocked(h Handle) error {
	if err := t.eq.Attach(h.Format()); err != nil {
		return err
	}
	h.SetProcessor(t.eq)
	return nil
}

func (t *Transport) publishMetadata(track types.Track, url string, duration time.Duration) {
	if duration <= 0 {
		duration = track.Duration
	}
	md := media.Metadata{
		TrackID:  track.Identity().String(),
		Title:    track.Name,
		Artists:  track.ArtistNames(),
		Album:    track.Album,
		Duration: duration,
		URL:      url,
		Artwork:  media.ArtworkVariants(track.PicURL),
	}
	if err := t.media.UpdateMetadata(md); err != nil {
		t.log.Debug("now playing metadata update failed", zap.Error(err))
	}
	t.pushPosition()
}

func (t *Transport) pushPosition() {
	t.mu.Lock()
	h, rate := t.handle, t.rate
	t.mu.Unlock()
	if h == nil {
		return
	}
	err := t.media.UpdatePositionState(media.PositionState{
		Duration: h.Duration(),
		Rate:     rate,
		Position: h.Position(),
	})
	if err != nil {
		t.log.Debug("position state update failed", zap.Error(err))
	}
}

// watchLocked publishes End when h plays through, unless it was torn down first
func (t *Transport) watchLocked(h Handle, track types.Track) {
	stop := make(chan struct{})
	t.watchStop = stop

	go func() {
		select {
		case <-stop:
			return
		case <-h.Done():
		}

		t.mu.Lock()
		if t.handle != h {
			t.mu.Unlock()
			return
		}
		t.state = StateStopped
		t.mu.Unlock()

		t.media.UpdatePlaybackState(media.StateStopped, 0)
		t.events.End.Publish(EndEvent{Track: track})
	}()
}

// teardownLocked stops and unloads the active handle. keepEQ keeps the filter chain.
func (t *Transport) teardownLocked(keepEQ bool) {
	if t.watchStop != nil {
		close(t.watchStop)
		t.watchStop = nil
	}
	if t.handle != nil {
		h := t.handle
		t.handle = nil
		h.SetProcessor(nil)
		if err := h.Stop(); err != nil {
			t.log.Debug("stop failed during teardown", zap.Error(err))
		}
		h.Unload()
	}
	if !keepEQ {
		t.eq.Detach()
	}
	t.state = StateStopped
}

// Pause pauses the active handle. It is a no-op when nothing is playing.
func (t *Transport) Pause() error {
	tok, err := t.lock.Acquire(OpPause)
	if err != nil {
		return err
	}
	defer t.lock.Release(tok)

	t.mu.Lock()
	h, track := t.handle, t.track
	if h == nil || !h.Playing() {
		t.mu.Unlock()
		return nil
	}
	if err := h.Pause(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	t.state = StatePaused
	t.mu.Unlock()

	pos := h.Position()
	t.media.UpdatePlaybackState(media.StatePaused, pos)
	t.events.Pause.Publish(PauseEvent{Track: track, Position: pos})
	return nil
}

// Resume plays the active handle. It is a no-op without a handle or when already playing.
func (t *Transport) Resume() error {
	tok, err := t.lock.Acquire(OpPlay)
	if err != nil {
		return err
	}
	defer t.lock.Release(tok)

	t.mu.Lock()
	h, track := t.handle, t.track
	if h == nil || h.Playing() {
		t.mu.Unlock()
		return nil
	}
	if err := h.Play(); err != nil {
		t.mu.Unlock()
		t.events.Error.Publish(ErrorEvent{Op: OpPlay, Err: err})
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	t.state = StatePlaying
	t.mu.Unlock()

	pos := h.Position()
	t.media.UpdatePlaybackState(media.StatePlaying, pos)
	t.events.Play.Publish(PlayEvent{Track: track, Position: pos})
	return nil
}

// Stop tears down the active handle. keepEqualizer keeps the filter chain for the next load.
func (t *Transport) Stop(keepEqualizer bool) error {
	tok, err := t.lock.Acquire(OpStop)
	if err != nil {
		return err
	}
	defer t.lock.Release(tok)

	t.dropPendingSeek()

	t.mu.Lock()
	had := t.handle != nil
	t.teardownLocked(keepEqualizer)
	t.mu.Unlock()

	if had {
		t.media.UpdatePlaybackState(media.StateStopped, 0)
	}
	return nil
}

// Seek schedules a seek to pos after the debounce window. Seeks arriving inside
// the window replace the target and restart the window under the same lock token.
func (t *Transport) Seek(pos time.Duration) error {
	t.seekMu.Lock()
	defer t.seekMu.Unlock()

	if t.seekToken != nil && t.lock.Refresh(*t.seekToken) {
		t.seekTarget = pos
		tok := *t.seekToken
		t.seekTimer.Reset(t.seekDebounce, func() { t.applySeek(tok) })
		return nil
	}
	t.seekToken = nil

	tok, err := t.lock.Acquire(OpSeek)
	if err != nil {
		return err
	}

	t.mu.Lock()
	loaded := t.handle != nil && t.handle.Loaded()
	t.mu.Unlock()
	if !loaded {
		t.lock.Release(tok)
		return nil
	}

	t.seekToken = &tok
	t.seekTarget = pos
	t.seekTimer.Reset(t.seekDebounce, func() { t.applySeek(tok) })
	return nil
}

func (t *Transport) applySeek(tok Token) {
	t.seekMu.Lock()
	if t.seekToken == nil || t.seekToken.ID != tok.ID {
		t.seekMu.Unlock()
		return
	}
	target := t.seekTarget
	t.seekToken = nil
	t.seekMu.Unlock()

	defer t.lock.Release(tok)
	if !t.lock.Holds(tok) {
		// reclaimed while the window was open
		return
	}

	t.mu.Lock()
	h := t.handle
	if h == nil || !h.Loaded() {
		t.mu.Unlock()
		return
	}
	if d := h.Duration(); d > 0 && target > d {
		target = d
	}
	target = max(target, 0)
	err := h.Seek(target)
	t.mu.Unlock()

	if err != nil {
		t.log.Warn("seek failed", zap.Duration("target", target), zap.Error(err))
		t.events.Error.Publish(ErrorEvent{Op: OpSeek, Err: err})
		return
	}
	t.pushPosition()
	t.events.Seek.Publish(SeekEvent{Position: target})
}

// dropPendingSeek cancels a debounced seek and releases its token
func (t *Transport) dropPendingSeek() {
	t.seekMu.Lock()
	defer t.seekMu.Unlock()

	t.seekTimer.Stop()
	if t.seekToken != nil {
		t.lock.Release(*t.seekToken)
		t.seekToken = nil
	}
}

// SetPlaybackRate applies rate to the active handle and every later load
func (t *Transport) SetPlaybackRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("invalid playback rate %v", rate)
	}
	tok, err := t.lock.Acquire(OpRate)
	if err != nil {
		return err
	}
	defer t.lock.Release(tok)

	t.mu.Lock()
	t.rate = rate
	h := t.handle
	t.mu.Unlock()

	if h != nil {
		if err := h.SetRate(rate); err != nil {
			return fmt.Errorf("%w: %w", ErrPlayback, err)
		}
		t.pushPosition()
	}
	return nil
}

// PlaybackRate returns the current rate
func (t *Transport) PlaybackRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// SetVolume sets the device volume in [0, 1]
func (t *Transport) SetVolume(v float64) {
	t.device.SetVolume(v)
}

// ForceResetLock drops any holder and publishes LockForceReset
func (t *Transport) ForceResetLock() {
	t.seekMu.Lock()
	t.seekTimer.Stop()
	t.seekToken = nil
	t.seekMu.Unlock()

	t.lock.ForceReset()
}

// SetEqualizerBand sets one band and persists the gains
func (t *Transport) SetEqualizerBand(ctx context.Context, freq int, gainDB float64) (float64, error) {
	applied, err := t.eq.SetBand(freq, gainDB)
	if err != nil {
		return 0, err
	}
	t.persist(ctx, store.KeyEQSettings, t.eq.Settings().Gains)
	return applied, nil
}

// SetEqualizerEnabled switches between the chained and bypass topologies
func (t *Transport) SetEqualizerEnabled(ctx context.Context, enabled bool) {
	t.eq.SetEnabled(enabled)
	t.persist(ctx, store.KeyEQEnabled, enabled)
}

// ResetEqualizer flattens every band and clears the persisted settings
func (t *Transport) ResetEqualizer(ctx context.Context) {
	t.eq.Reset()
	t.eq.SetEnabled(false)
	if t.store == nil {
		return
	}
	if err := t.store.Delete(ctx, store.KeyEQSettings, store.KeyEQEnabled); err != nil {
		t.log.Warn("failed to clear equalizer settings", zap.Error(err))
	}
}

// RestoreEqualizer applies persisted equalizer settings
func (t *Transport) RestoreEqualizer(ctx context.Context) {
	if t.store == nil {
		return
	}
	var s EqualizerSettings
	if _, err := store.GetOr(ctx, t.store, store.KeyEQSettings, &s.Gains); err != nil {
		t.log.Warn("failed to read equalizer gains", zap.Error(err))
	}
	if _, err := store.GetOr(ctx, t.store, store.KeyEQEnabled, &s.Enabled); err != nil {
		t.log.Warn("failed to read equalizer flag", zap.Error(err))
	}
	t.eq.Apply(s)
}

func (t *Transport) persist(ctx context.Context, key string, v any) {
	if t.store == nil {
		return
	}
	if err := t.store.Set(ctx, key, v); err != nil {
		t.log.Warn("failed to persist", zap.String("key", key), zap.Error(err))
	}
}

// Status returns a snapshot of the transport
func (t *Transport) Status() Status {
	t.mu.Lock()
	st := Status{
		State:     t.state,
		Rate:      t.rate,
		Volume:    t.device.Volume(),
		Equalizer: t.eq.Settings(),
	}
	if t.hasTrack {
		tr := t.track
		st.Track = &tr
	}
	h := t.handle
	t.mu.Unlock()

	if h != nil {
		st.URL = h.URL()
		st.Position = h.Position()
		st.Duration = h.Duration()
	}
	if holder, ok := t.lock.Holder(); ok {
		st.LockedBy = holder.ID
	}
	return st
}

// Playing reports whether the active handle is playing
func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil && t.handle.Playing()
}

// Position returns the active handle position, or 0
func (t *Transport) Position() time.Duration {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.Position()
}

// Close tears everything down and closes the device
func (t *Transport) Close() error {
	t.dropPendingSeek()
	t.mu.Lock()
	t.teardownLocked(false)
	t.mu.Unlock()
	if t.preloader != nil {
		t.preloader.Clear()
	}
	return t.device.Close()
}
