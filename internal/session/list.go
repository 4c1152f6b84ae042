package session

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/media"
	"github.com/austinkregel/local-media/streamd/internal/resolver"
	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// AddToNext places track right after the current entry. On an idle, empty
// list it starts playing it.
func (s *Session) AddToNext(ctx context.Context, track types.Track) error {
	wasEmpty := s.queue.Len() == 0
	s.queue.InsertNext(track)
	s.persistList(ctx)

	if wasEmpty && !s.transport.Playing() {
		_, err := s.PlayTrack(ctx, track, true)
		return err
	}
	return nil
}

// AddSongs appends tracks that are not yet in the list and returns how many
// were added. On an idle, empty list it starts playing the first one.
func (s *Session) AddSongs(ctx context.Context, tracks []types.Track) (int, error) {
	wasEmpty := s.queue.Len() == 0
	added := s.queue.Append(tracks...)
	if added == 0 {
		return 0, nil
	}
	s.persistList(ctx)

	if wasEmpty && !s.transport.Playing() {
		first, _ := s.queue.At(0)
		if _, err := s.PlayTrack(ctx, first, true); err != nil {
			return added, err
		}
	}
	return added, nil
}

// SetList replaces the playback list. Without keepIndex the index follows
// the current track when it is part of the new list.
func (s *Session) SetList(ctx context.Context, tracks []types.Track, keepIndex bool) {
	s.queue.Set(tracks, keepIndex)
	if !keepIndex {
		if cur, ok := s.Current(); ok {
			if i := s.queue.IndexOf(cur.Identity()); i >= 0 {
				s.queue.SetIndex(i)
			}
		}
	}
	s.persistList(ctx)
}

// Remove deletes the entry at index. Removing the current entry moves
// playback to the entry that followed it.
func (s *Session) Remove(ctx context.Context, index int) error {
	ok, wasCurrent := s.queue.Remove(index)
	if !ok {
		return nil
	}
	s.persistList(ctx)
	if !wasCurrent {
		return nil
	}

	next, ok := s.queue.Current()
	if !ok {
		return s.stopAndForget(ctx)
	}
	_, err := s.PlayTrack(ctx, next, true)
	return err
}

// ClearAll pauses playback and forgets the list and the current track
func (s *Session) ClearAll(ctx context.Context) error {
	if err := s.transport.Pause(); err != nil {
		s.log.Warn("failed to pause while clearing", zap.Error(err))
	}
	s.preload.Stop()
	s.queue.Clear()

	s.mu.Lock()
	s.current = nil
	s.selected = types.Identity{}
	s.mu.Unlock()

	s.forget(ctx, store.KeyCurrentTrack, store.KeyCurrentURL, store.KeyPlayList, store.KeyPlayListIndex)
	return nil
}

func (s *Session) stopAndForget(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.selected = types.Identity{}
	s.mu.Unlock()
	s.forget(ctx, store.KeyCurrentTrack, store.KeyCurrentURL)
	return s.transport.Stop(true)
}

// TogglePlayMode cycles sequential, loop and shuffle
func (s *Session) TogglePlayMode(ctx context.Context) types.PlayMode {
	mode := s.queue.Mode().Next()
	s.SetPlayMode(ctx, mode)
	return mode
}

// SetPlayMode sets, persists and mirrors the play mode
func (s *Session) SetPlayMode(ctx context.Context, mode types.PlayMode) {
	s.queue.SetMode(mode)
	s.persist(ctx, store.KeyPlayMode, int(mode))
	s.mirrorMode(mode)
}

func (s *Session) mirrorMode(mode types.PlayMode) {
	loop := media.LoopPlaylist
	if mode == types.PlayModeLoop {
		loop = media.LoopTrack
	}
	if err := s.media.UpdateLoopStatus(loop); err != nil {
		s.log.Debug("loop status update failed", zap.Error(err))
	}
	if err := s.media.UpdateShuffle(mode == types.PlayModeShuffle); err != nil {
		s.log.Debug("shuffle update failed", zap.Error(err))
	}
}

// Favorites returns the favorite track ids, most recent first
func (s *Session) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites)
}

// AddFavorite marks id as a favorite. The local list is the source of
// truth; the catalog is updated in the background.
func (s *Session) AddFavorite(ctx context.Context, id string) {
	s.mu.Lock()
	if slices.Contains(s.favorites, id) {
		s.mu.Unlock()
		return
	}
	s.favorites = append([]string{id}, s.favorites...)
	favs := slices.Clone(s.favorites)
	s.mu.Unlock()

	s.persist(ctx, store.KeyFavoriteList, favs)
	s.syncLike(id, true)
}

// RemoveFavorite unmarks id
func (s *Session) RemoveFavorite(ctx context.Context, id string) {
	s.mu.Lock()
	i := slices.Index(s.favorites, id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.favorites = slices.Delete(s.favorites, i, i+1)
	favs := slices.Clone(s.favorites)
	s.mu.Unlock()

	s.persist(ctx, store.KeyFavoriteList, favs)
	s.syncLike(id, false)
}

func (s *Session) syncLike(id string, liked bool) {
	if s.favSync == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		if err := s.favSync.Like(ctx, id, liked); err != nil {
			s.log.Warn("failed to sync favorite", zap.String("id", id), zap.Bool("liked", liked), zap.Error(err))
		}
	}()
}

// InitializeFavorites loads the local favorites and merges the server's
// liked list into them when a user id is configured
func (s *Session) InitializeFavorites(ctx context.Context) error {
	var local []string
	if s.store != nil {
		if _, err := store.GetOr(ctx, s.store, store.KeyFavoriteList, &local); err != nil {
			return err
		}
	}

	merged := slices.Clone(local)
	if s.favSync != nil && s.userID != "" {
		remote, err := s.favSync.LikedList(ctx, s.userID)
		if err != nil {
			s.log.Warn("failed to fetch liked list", zap.Error(err))
		} else {
			merged = mergeFavorites(remote, local)
		}
	}
	if merged == nil {
		merged = []string{}
	}

	s.mu.Lock()
	s.favorites = merged
	s.mu.Unlock()
	if len(merged) != len(local) {
		s.persist(ctx, store.KeyFavoriteList, merged)
	}
	return nil
}

// mergeFavorites keeps remote order and appends local-only ids
func mergeFavorites(remote, local []string) []string {
	out := make([]string, 0, len(remote)+len(local))
	seen := make(map[string]bool, len(remote)+len(local))
	for _, list := range [][]string{remote, local} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Reparse re-resolves the current track through origin and plays it
func (s *Session) Reparse(ctx context.Context, origin types.Origin) (Result, error) {
	cur, ok := s.Current()
	if !ok {
		return ResultFailed, ErrNoTrack
	}
	cur.ClearURL()
	return s.play(ctx, cur, true, func(ctx context.Context, t *types.Track) (resolver.Resolution, error) {
		return s.resolver.ResolveVia(ctx, t, origin)
	})
}
