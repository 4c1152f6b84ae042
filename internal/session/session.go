// Package session orchestrates playback: it selects tracks from the playback
// list, resolves and decorates them, hands them to the transport and reacts
// to transport events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/streamd/internal/artwork"
	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/logger"
	"github.com/austinkregel/local-media/streamd/internal/media"
	"github.com/austinkregel/local-media/streamd/internal/queue"
	"github.com/austinkregel/local-media/streamd/internal/resolver"
	"github.com/austinkregel/local-media/streamd/internal/sleeptimer"
	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/timer"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

var (
	// ErrEmptyList is returned when navigating an empty playback list
	ErrEmptyList = errors.New("playback list is empty")
	// ErrNoTrack is returned when an operation needs a current track
	ErrNoTrack = errors.New("no current track")
	// ErrAdvanceFailed is returned when every candidate of a Next/Prev failed
	ErrAdvanceFailed = errors.New("no playable track found")
)

const (
	DefaultPreloadDelay   = 3 * time.Second
	DefaultLockRetryDelay = time.Second
	maxAdvanceTries       = 3
)

// Result is the outcome of PlayTrack
type Result int

const (
	ResultFailed Result = iota
	ResultPlayed
	// ResultStale means another selection superseded this one while it was
	// being resolved. The resolved URL was kept in the list.
	ResultStale
)

func (r Result) String() string {
	switch r {
	case ResultPlayed:
		return "played"
	case ResultStale:
		return "stale"
	default:
		return "failed"
	}
}

// URLResolver resolves playable URLs
type URLResolver interface {
	Resolve(ctx context.Context, track *types.Track) (resolver.Resolution, error)
	ResolveVia(ctx context.Context, track *types.Track, origin types.Origin) (resolver.Resolution, error)
}

// LyricLoader loads lyrics; it never fails
type LyricLoader interface {
	Load(ctx context.Context, track *types.Track) *types.Lyric
}

// ColorExtractor derives display colors from cover art
type ColorExtractor interface {
	Colors(ctx context.Context, picURL string) (artwork.Colors, error)
}

// FavoriteSync mirrors favorites to the primary catalog
type FavoriteSync interface {
	Like(ctx context.Context, id string, liked bool) error
	LikedList(ctx context.Context, uid string) ([]string, error)
}

// Options holds the session's collaborators. Transport, Resolver and Queue
// are required.
type Options struct {
	Transport *audio.Transport
	Preloader *audio.Preloader
	Resolver  URLResolver
	Lyrics    LyricLoader
	Colors    ColorExtractor
	Favorites FavoriteSync
	Queue     *queue.Manager
	Sleep     *sleeptimer.Timer
	Media     media.Session
	Store     store.Store
	Logger    *zap.Logger

	AutoPlay       bool
	UserID         string
	PreloadDelay   time.Duration
	LockRetryDelay time.Duration
}

// Session is the playback orchestrator
type Session struct {
	transport *audio.Transport
	preloader *audio.Preloader
	resolver  URLResolver
	lyrics    LyricLoader
	colors    ColorExtractor
	favSync   FavoriteSync
	queue     *queue.Manager
	sleep     *sleeptimer.Timer
	media     media.Session
	store     store.Store
	log       *zap.Logger

	autoPlay     bool
	userID       string
	preloadDelay time.Duration
	lockRetry    time.Duration
	preload      *timer.Timer

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu        sync.Mutex
	selected  types.Identity
	current   *types.Track
	favorites []string
}

// New creates a session and subscribes it to the transport's events
func New(opts Options) *Session {
	s := &Session{
		transport:    opts.Transport,
		preloader:    opts.Preloader,
		resolver:     opts.Resolver,
		lyrics:       opts.Lyrics,
		colors:       opts.Colors,
		favSync:      opts.Favorites,
		queue:        opts.Queue,
		sleep:        opts.Sleep,
		media:        opts.Media,
		store:        opts.Store,
		log:          opts.Logger,
		autoPlay:     opts.AutoPlay,
		userID:       opts.UserID,
		preloadDelay: opts.PreloadDelay,
		lockRetry:    opts.LockRetryDelay,
		preload:      timer.New(),
		favorites:    []string{},
	}
	s.log = logger.OrNop(s.log).Named("session")
	if s.media == nil {
		s.media = media.NewNoOpSession()
	}
	if s.preloadDelay <= 0 {
		s.preloadDelay = DefaultPreloadDelay
	}
	if s.lockRetry <= 0 {
		s.lockRetry = DefaultLockRetryDelay
	}
	if s.queue == nil {
		s.queue = queue.NewManager()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.subscribe()
	s.media.SetCommandHandler(s)
	return s
}

// Close unsubscribes from transport events and stops background work
func (s *Session) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.preload.Stop()
	s.cancel()
	if s.sleep != nil {
		s.sleep.Close()
	}
}

// Queue returns the playback list
func (s *Session) Queue() *queue.Manager { return s.queue }

// Sleep returns the sleep timer
func (s *Session) Sleep() *sleeptimer.Timer { return s.sleep }

// Current returns a copy of the committed track
func (s *Session) Current() (types.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.Track{}, false
	}
	return *s.current, true
}

type resolveFunc func(ctx context.Context, track *types.Track) (resolver.Resolution, error)

// PlayTrack selects track, resolves it and loads it into the transport. If a
// newer selection is made while this one resolves, the resolved URL is kept
// in the list and ResultStale is returned with a nil error.
func (s *Session) PlayTrack(ctx context.Context, track types.Track, autoplay bool) (Result, error) {
	return s.play(ctx, track, autoplay, s.resolver.Resolve)
}

func (s *Session) play(ctx context.Context, track types.Track, autoplay bool, resolve resolveFunc) (Result, error) {
	id := track.Identity()
	if id.IsZero() {
		return ResultFailed, ErrNoTrack
	}
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	if i := s.queue.IndexOf(id); i >= 0 {
		s.queue.SetIndex(i)
	}

	log := s.log.With(zap.String("track", id.String()))
	s.decorate(ctx, &track)

	res, err := resolve(ctx, &track)
	if err != nil {
		log.Warn("failed to resolve track", zap.Error(err))
		return ResultFailed, err
	}
	track.URL, track.ResolvedAt, track.ExpiresAt = res.URL, res.ResolvedAt, res.ExpiresAt

	if s.superseded(id) {
		log.Info("selection superseded, keeping resolved url", zap.String("strategy", string(res.Strategy)))
		s.writeBack(ctx, track)
		return ResultStale, nil
	}

	s.mu.Lock()
	committed := track
	s.current = &committed
	s.mu.Unlock()
	s.writeBack(ctx, track)
	s.persist(ctx, store.KeyCurrentTrack, track)
	s.persist(ctx, store.KeyCurrentURL, track.URL)

	result, err := s.load(ctx, track, autoplay)
	if err != nil || result != ResultPlayed {
		return result, err
	}
	log.Info("playing", zap.String("name", track.Name), zap.String("strategy", string(res.Strategy)))
	s.schedulePreload()
	return ResultPlayed, nil
}

// decorate loads lyrics and artwork colors concurrently. Both are best effort.
func (s *Session) decorate(ctx context.Context, track *types.Track) {
	var (
		lyric  *types.Lyric
		colors artwork.Colors
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.lyrics != nil && track.Lyric.Empty() {
		g.Go(func() error {
			lyric = s.lyrics.Load(gctx, track)
			return nil
		})
	}
	if s.colors != nil && track.PicURL != "" && track.BackgroundColor == "" {
		g.Go(func() error {
			c, err := s.colors.Colors(gctx, track.PicURL)
			if err != nil {
				s.log.Debug("no artwork colors", zap.String("track", track.Identity().String()), zap.Error(err))
				return nil
			}
			colors = c
			return nil
		})
	}
	_ = g.Wait()

	if lyric != nil {
		track.Lyric = lyric
	}
	if colors.Background != "" {
		track.BackgroundColor = colors.Background
		track.PrimaryColor = colors.Primary
	}
}

// load hands the committed track to the transport. A busy lock is force
// reset and the load retried once. A load overtaken by a newer one is stale.
func (s *Session) load(ctx context.Context, track types.Track, autoplay bool) (Result, error) {
	err := s.transport.Load(ctx, track.URL, track, autoplay)
	if errors.Is(err, audio.ErrLockLost) {
		return ResultStale, nil
	}
	if !errors.Is(err, audio.ErrLockBusy) {
		if err != nil {
			return ResultFailed, err
		}
		return ResultPlayed, nil
	}

	s.log.Warn("transport busy, forcing lock reset", zap.String("track", track.Identity().String()))
	s.transport.ForceResetLock()
	select {
	case <-time.After(s.lockRetry):
	case <-ctx.Done():
		return ResultFailed, ctx.Err()
	}
	if s.superseded(track.Identity()) {
		return ResultStale, nil
	}
	if err := s.transport.Load(ctx, track.URL, track, autoplay); err != nil {
		if errors.Is(err, audio.ErrLockLost) {
			return ResultStale, nil
		}
		return ResultFailed, err
	}
	return ResultPlayed, nil
}

func (s *Session) superseded(id types.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected != id
}

// writeBack stores the resolved URL and decorations in the list entry
func (s *Session) writeBack(ctx context.Context, track types.Track) {
	found := s.queue.Update(track.Identity(), func(t *types.Track) {
		t.URL, t.ResolvedAt, t.ExpiresAt = track.URL, track.ResolvedAt, track.ExpiresAt
		if !track.Lyric.Empty() {
			t.Lyric = track.Lyric
		}
		if track.BackgroundColor != "" {
			t.BackgroundColor, t.PrimaryColor = track.BackgroundColor, track.PrimaryColor
		}
	})
	if found {
		s.persistList(ctx)
	}
}

func (s *Session) schedulePreload() {
	s.preload.Reset(s.preloadDelay, func() {
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		s.preloadNext(ctx)
	})
}

// preloadNext resolves the entry after the current one and warms a handle for it
func (s *Session) preloadNext(ctx context.Context) {
	idx, n := s.queue.Position()
	if n < 2 || idx < 0 {
		return
	}
	next, ok := s.queue.At((idx + 1) % n)
	if !ok {
		return
	}
	res, err := s.resolver.Resolve(ctx, &next)
	if err != nil {
		s.log.Debug("preload resolution failed", zap.String("track", next.Identity().String()), zap.Error(err))
		return
	}
	if res.Strategy != resolver.StrategyCache {
		next.URL, next.ResolvedAt, next.ExpiresAt = res.URL, res.ResolvedAt, res.ExpiresAt
		s.writeBack(ctx, next)
	}
	if s.preloader == nil {
		return
	}
	if err := s.preloader.Preload(ctx, res.URL); err != nil {
		s.log.Debug("preload failed", zap.String("track", next.Identity().String()), zap.Error(err))
	}
}

func (s *Session) persist(ctx context.Context, key string, v any) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, key, v); err != nil {
		s.log.Warn("failed to persist", zap.String("key", key), zap.Error(err))
	}
}

func (s *Session) persistList(ctx context.Context) {
	idx, _ := s.queue.Position()
	s.persist(ctx, store.KeyPlayList, s.queue.Items())
	s.persist(ctx, store.KeyPlayListIndex, idx)
}

func (s *Session) forget(ctx context.Context, keys ...string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.log.Warn("failed to delete keys", zap.Strings("keys", keys), zap.Error(err))
	}
}

func wrapAdvance(err error) error {
	if err == nil {
		return ErrAdvanceFailed
	}
	return fmt.Errorf("%w: %w", ErrAdvanceFailed, err)
}
