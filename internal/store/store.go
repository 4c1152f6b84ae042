// Package store persists playback state as JSON values under fixed keys.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a key that was never set or was deleted
var ErrNotFound = errors.New("key not found")

// Persisted keys
const (
	KeyCurrentTrack  = "currentTrack"
	KeyCurrentURL    = "currentURL"
	KeyPlayList      = "playList"
	KeyPlayListIndex = "playListIndex"
	KeyPlayMode      = "playMode"
	KeyFavoriteList  = "favoriteList"
	KeySleepTimer    = "sleepTimer"
	KeyPlaybackRate  = "playbackRate"
	KeyEQSettings    = "eqSettings"
	KeyEQEnabled     = "isEQEnabled"
)

// Store is a small key-value store of JSON encoded values
type Store interface {
	// Get decodes the value for key into v
	Get(ctx context.Context, key string, v any) error
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// GetOr decodes key into v and reports whether it was present.
// A missing key is not an error.
func GetOr(ctx context.Context, s Store, key string, v any) (bool, error) {
	err := s.Get(ctx, key, v)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
