// Package types provides shared type definitions used across the streamd daemon.
package types

import (
	"fmt"
	"time"
)

// Origin identifies the catalog a track belongs to
type Origin string

const (
	// OriginNetease is the primary catalog
	OriginNetease Origin = "netease"
	// OriginKuwo is the secondary catalog. It keeps the "other" tag used by clients.
	OriginKuwo Origin = "other"
)

// ParseOrigin parses a client supplied origin, defaulting to the primary catalog
func ParseOrigin(s string) Origin {
	switch s {
	case "other", "kuwo", "kw":
		return OriginKuwo
	default:
		return OriginNetease
	}
}

// URLTTL is how long a resolved URL is trusted
const URLTTL = 30 * time.Minute

// Artist is a track artist
type Artist struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// LyricLine is one line of a time-indexed lyric
type LyricLine struct {
	Text        string `json:"text"`
	Translation string `json:"trText"`
}

// Lyric holds parallel timestamp and line slices
type Lyric struct {
	Times []float64   `json:"lrcTimeArray"`
	Lines []LyricLine `json:"lrcArray"`
}

// Empty reports whether the lyric has no lines
func (l *Lyric) Empty() bool {
	return l == nil || len(l.Times) == 0
}

// Identity is the snapshot used to decide whether two tracks are the same selection
type Identity struct {
	ID     string `json:"id"`
	Origin Origin `json:"origin"`
}

// String returns origin:id
func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Origin, i.ID)
}

// IsZero reports whether the identity is unset
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Track is a catalog track together with its resolution and lyric caches
type Track struct {
	ID       string        `json:"id"`
	Origin   Origin        `json:"source"`
	Name     string        `json:"name"`
	Artists  []Artist      `json:"ar,omitempty"`
	Album    string        `json:"album,omitempty"`
	PicURL   string        `json:"picUrl,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	URL        string    `json:"playMusicUrl,omitempty"`
	ResolvedAt time.Time `json:"createdAt,omitempty"`
	ExpiresAt  time.Time `json:"expiredAt,omitempty"`

	Lyric *Lyric `json:"lyric,omitempty"`

	BackgroundColor string `json:"backgroundColor,omitempty"`
	PrimaryColor    string `json:"primaryColor,omitempty"`
}

// Identity returns the (id, origin) snapshot of the track
func (t *Track) Identity() Identity {
	return Identity{ID: t.ID, Origin: t.Origin}
}

// CachedURL returns the resolved URL if it has not expired
func (t *Track) CachedURL(now time.Time) string {
	if t.URL == "" {
		return ""
	}
	if !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt) {
		return ""
	}
	return t.URL
}

// SetURL stamps a freshly resolved URL
func (t *Track) SetURL(url string, now time.Time) {
	t.URL = url
	t.ResolvedAt = now
	t.ExpiresAt = now.Add(URLTTL)
}

// ClearURL drops the cached URL so the next selection re-resolves it
func (t *Track) ClearURL() {
	t.URL = ""
	t.ResolvedAt = time.Time{}
	t.ExpiresAt = time.Time{}
}

// ArtistNames returns the artist names in order
func (t *Track) ArtistNames() []string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return names
}

// PlayMode is the list advance mode
type PlayMode int

const (
	PlayModeSequential PlayMode = iota
	PlayModeLoop
	PlayModeShuffle
)

// String returns the string representation of the play mode
func (m PlayMode) String() string {
	switch m {
	case PlayModeLoop:
		return "loop"
	case PlayModeShuffle:
		return "shuffle"
	default:
		return "sequential"
	}
}

// Next cycles sequential -> loop -> shuffle
func (m PlayMode) Next() PlayMode {
	return (m + 1) % 3
}
