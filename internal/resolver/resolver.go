// Package resolver turns a track into a playable URL, trying the catalogs
// in a fixed order and falling back when a source misbehaves.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/catalog"
	"github.com/austinkregel/local-media/streamd/internal/timer"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

var (
	// ErrResolutionFailed is returned when no source produced a URL
	ErrResolutionFailed = errors.New("resolution failed")
	// ErrTimeout is returned when the unblock service did not answer in time
	ErrTimeout = errors.New("unblock timed out")
)

// DefaultUnblockTimeout bounds a single unblock call
const DefaultUnblockTimeout = 7 * time.Second

// Strategy names the path that produced a URL
type Strategy string

const (
	StrategySecondary       Strategy = "secondary"
	StrategyCache           Strategy = "cache"
	StrategyPrimary         Strategy = "primary"
	StrategyUnblock         Strategy = "unblock"
	StrategyPrimaryFallback Strategy = "primary-fallback"
)

// Primary is the primary catalog's URL endpoint
type Primary interface {
	SongURL(ctx context.Context, id string) (*catalog.SongURL, error)
}

// Unblocker finds alternative URLs for primary catalog tracks
type Unblocker interface {
	Unblock(ctx context.Context, track *types.Track) (string, error)
}

// Secondary synthesizes streaming URLs for the secondary catalog
type Secondary interface {
	PlayURL(id, quality string) string
}

// Resolution is a resolved URL and its validity window
type Resolution struct {
	URL        string
	Strategy   Strategy
	ResolvedAt time.Time
	ExpiresAt  time.Time
}

// Attempt records one resolution for the log
type Attempt struct {
	Origin   types.Origin
	Strategy Strategy
	Outcome  string
	Elapsed  time.Duration
}

// Options holds the resolver's collaborators
type Options struct {
	Primary        Primary
	Unblocker      Unblocker
	Secondary      Secondary
	EnableUnblock  bool
	UnblockTimeout time.Duration
	Quality        string
	Logger         *zap.Logger
	// Now is used for expiry stamps; defaults to time.Now
	Now func() time.Time
}

// Resolver resolves track URLs
type Resolver struct {
	primary   Primary
	unblocker Unblocker
	secondary Secondary
	quality   string
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger

	mu            sync.RWMutex
	enableUnblock bool
}

// New creates a resolver
func New(opts Options) *Resolver {
	r := &Resolver{
		primary:       opts.Primary,
		unblocker:     opts.Unblocker,
		secondary:     opts.Secondary,
		quality:       opts.Quality,
		timeout:       opts.UnblockTimeout,
		now:           opts.Now,
		log:           opts.Logger,
		enableUnblock: opts.EnableUnblock,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultUnblockTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.Named("resolver")
	return r
}

// SetUnblockEnabled toggles the unblock phase
func (r *Resolver) SetUnblockEnabled(enabled bool) {
	r.mu.Lock()
	r.enableUnblock = enabled
	r.mu.Unlock()
}

func (r *Resolver) unblockEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enableUnblock && r.unblocker != nil
}

// NeedsUnblock classifies a primary catalog answer. Paid tracks (fee 1 or 4)
// need unblocking when they come back as a trial or without a bitrate; free
// tracks only when there is neither a trial nor a bitrate.
func NeedsUnblock(fee int, hasTrial bool, br int) bool {
	switch fee {
	case 1, 4:
		return hasTrial || br <= 0
	case 0:
		return !hasTrial && br <= 0
	default:
		return false
	}
}

// Resolve returns a playable URL for track. A cached, unexpired URL is
// returned without touching the network.
func (r *Resolver) Resolve(ctx context.Context, track *types.Track) (Resolution, error) {
	now := r.now()
	if track.Origin != types.OriginKuwo {
		if u := track.CachedURL(now); u != "" {
			r.record(track.ID, track.Origin, StrategyCache, "hit", 0)
			return Resolution{URL: u, Strategy: StrategyCache, ResolvedAt: track.ResolvedAt, ExpiresAt: track.ExpiresAt}, nil
		}
	}
	return r.ResolveVia(ctx, track, track.Origin)
}

// ResolveVia resolves track through origin, ignoring any cached URL
func (r *Resolver) ResolveVia(ctx context.Context, track *types.Track, origin types.Origin) (Resolution, error) {
	start := r.now()
	var (
		url      string
		strategy Strategy
		err      error
	)
	if origin == types.OriginKuwo {
		url, strategy, err = r.resolveSecondary(track)
	} else {
		url, strategy, err = r.resolvePrimary(ctx, track)
	}

	elapsed := r.now().Sub(start)
	if err != nil {
		r.record(track.ID, origin, strategy, err.Error(), elapsed)
		return Resolution{}, err
	}
	r.record(track.ID, origin, strategy, "ok", elapsed)

	resolvedAt := r.now()
	return Resolution{
		URL:        url,
		Strategy:   strategy,
		ResolvedAt: resolvedAt,
		ExpiresAt:  resolvedAt.Add(types.URLTTL),
	}, nil
}

func (r *Resolver) resolveSecondary(track *types.Track) (string, Strategy, error) {
	if track.ID == "" || r.secondary == nil {
		return "", StrategySecondary, fmt.Errorf("%w: secondary track without id", ErrResolutionFailed)
	}
	return r.secondary.PlayURL(track.ID, r.quality), StrategySecondary, nil
}

func (r *Resolver) resolvePrimary(ctx context.Context, track *types.Track) (string, Strategy, error) {
	var (
		officialURL  string
		needsUnblock bool
	)

	song, err := r.primary.SongURL(ctx, track.ID)
	switch {
	case err != nil:
		r.log.Warn("primary lookup failed", zap.String("id", track.ID), zap.Error(err))
		needsUnblock = true
	case song.URL == "":
		needsUnblock = true
	default:
		officialURL = song.URL
		needsUnblock = NeedsUnblock(song.Fee, song.HasTrial(), song.BR)
		r.log.Debug("primary answered",
			zap.String("id", track.ID),
			zap.Int("fee", song.Fee),
			zap.Int("br", song.BR),
			zap.Bool("trial", song.HasTrial()),
			zap.Bool("needsUnblock", needsUnblock),
		)
	}

	if !needsUnblock {
		return officialURL, StrategyPrimary, nil
	}
	if !r.unblockEnabled() {
		if officialURL != "" {
			return officialURL, StrategyPrimary, nil
		}
		return "", StrategyPrimary, fmt.Errorf("%w: %s has no primary url and unblocking is disabled", ErrResolutionFailed, track.ID)
	}

	unblocked, err := r.unblock(ctx, track)
	if err == nil {
		return unblocked, StrategyUnblock, nil
	}
	r.log.Warn("unblock failed", zap.String("id", track.ID), zap.Error(err))

	if officialURL != "" {
		return officialURL, StrategyPrimaryFallback, nil
	}
	return "", StrategyUnblock, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, track.ID, err)
}

// unblock calls the unblock service, giving up after the configured timeout
func (r *Resolver) unblock(ctx context.Context, track *types.Track) (string, error) {
	u, err := timer.Race(ctx, r.timeout, func(ctx context.Context) (string, error) {
		return r.unblocker.Unblock(ctx, track)
	})
	if errors.Is(err, timer.ErrExpired) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", errors.New("unblock returned no url")
	}
	return u, nil
}

func (r *Resolver) record(id string, origin types.Origin, strategy Strategy, outcome string, elapsed time.Duration) {
	a := Attempt{Origin: origin, Strategy: strategy, Outcome: outcome, Elapsed: elapsed}
	r.log.Info("resolution attempt",
		zap.String("id", id),
		zap.String("origin", string(a.Origin)),
		zap.String("strategy", string(a.Strategy)),
		zap.String("outcome", a.Outcome),
		zap.Duration("elapsed", a.Elapsed),
	)
}
