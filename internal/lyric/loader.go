package lyric

import (
	"context"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/catalog"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// PrimarySource returns LRC text and its translation
type PrimarySource interface {
	Lyric(ctx context.Context, id string) (*catalog.RawLyric, error)
}

// SecondarySource returns LRC text without translation
type SecondarySource interface {
	Lyric(ctx context.Context, id string) (string, error)
}

// Loader fetches lyrics from the catalog a track belongs to
type Loader struct {
	primary   PrimarySource
	secondary SecondarySource
	log       *zap.Logger
}

// NewLoader creates a loader
func NewLoader(primary PrimarySource, secondary SecondarySource, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{primary: primary, secondary: secondary, log: log.Named("lyric")}
}

// Load never fails: any error is logged and yields an empty lyric
func (l *Loader) Load(ctx context.Context, track *types.Track) *types.Lyric {
	if track.Origin == types.OriginKuwo {
		return l.loadSecondary(ctx, track.ID)
	}
	return l.loadPrimary(ctx, track.ID)
}

func (l *Loader) loadPrimary(ctx context.Context, id string) *types.Lyric {
	if l.primary == nil {
		return Empty()
	}
	raw, err := l.primary.Lyric(ctx, id)
	if err != nil {
		l.log.Warn("failed to load lyric", zap.String("id", id), zap.Error(err))
		return Empty()
	}
	return Build(raw.Lyric, raw.Translation)
}

func (l *Loader) loadSecondary(ctx context.Context, id string) *types.Lyric {
	if l.secondary == nil {
		return Empty()
	}
	lrc, err := l.secondary.Lyric(ctx, id)
	if err != nil {
		l.log.Warn("failed to load secondary lyric", zap.String("id", id), zap.Error(err))
		return Empty()
	}
	if lrc == "" {
		return Empty()
	}
	return Build(lrc, "")
}
