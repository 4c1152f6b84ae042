package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/sleeptimer"
	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// Status is a snapshot for clients
type Status struct {
	Transport      audio.Status     `json:"transport"`
	Current        *types.Track     `json:"current,omitempty"`
	Index          int              `json:"index"`
	Size           int              `json:"size"`
	PlayMode       types.PlayMode   `json:"playMode"`
	Sleep          sleeptimer.State `json:"sleepTimer"`
	SleepRemaining time.Duration    `json:"sleepRemaining,omitempty"`
	Favorites      int              `json:"favorites"`
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	st := Status{Transport: s.transport.Status(), PlayMode: s.queue.Mode()}
	st.Index, st.Size = s.queue.Position()
	if cur, ok := s.Current(); ok {
		st.Current = &cur
	}
	if s.sleep != nil {
		st.Sleep = s.sleep.State()
		st.SleepRemaining = s.sleep.Remaining()
	}
	s.mu.Lock()
	st.Favorites = len(s.favorites)
	s.mu.Unlock()
	return st
}

// InitializePlayState restores the persisted list, mode, sleep timer and
// rate, then replays the saved current track with a fresh URL. A track that
// can no longer be played is forgotten.
func (s *Session) InitializePlayState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	var errs []error

	var list []types.Track
	if found, err := store.GetOr(ctx, s.store, store.KeyPlayList, &list); err != nil {
		errs = append(errs, err)
	} else if found {
		s.queue.Set(list, false)
	}
	var idx int
	if found, err := store.GetOr(ctx, s.store, store.KeyPlayListIndex, &idx); err != nil {
		errs = append(errs, err)
	} else if found {
		s.queue.SetIndex(idx)
	}
	var mode int
	if found, err := store.GetOr(ctx, s.store, store.KeyPlayMode, &mode); err != nil {
		errs = append(errs, err)
	} else if found && mode >= 0 && mode <= int(types.PlayModeShuffle) {
		s.queue.SetMode(types.PlayMode(mode))
		s.mirrorMode(types.PlayMode(mode))
	}
	if s.sleep != nil {
		if err := s.sleep.Restore(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	var rate float64
	if found, err := store.GetOr(ctx, s.store, store.KeyPlaybackRate, &rate); err != nil {
		errs = append(errs, err)
	} else if found && rate > 0 {
		if err := s.transport.SetPlaybackRate(rate); err != nil {
			errs = append(errs, err)
		}
	}
	s.transport.RestoreEqualizer(ctx)

	var cur types.Track
	found, err := store.GetOr(ctx, s.store, store.KeyCurrentTrack, &cur)
	if err != nil {
		errs = append(errs, err)
	} else if found && !cur.Identity().IsZero() {
		cur.ClearURL()
		if _, err := s.PlayTrack(ctx, cur, s.autoPlay); err != nil {
			s.log.Warn("failed to restore current track", zap.String("track", cur.Identity().String()), zap.Error(err))
			s.mu.Lock()
			s.current = nil
			s.mu.Unlock()
			s.forget(ctx, store.KeyCurrentTrack, store.KeyCurrentURL)
		}
	}
	return errors.Join(errs...)
}

// Pause pauses playback
func (s *Session) Pause() error {
	return s.transport.Pause()
}

// Resume resumes playback. Without a loaded handle the current track is
// played again.
func (s *Session) Resume(ctx context.Context) error {
	if st := s.transport.Status(); st.URL == "" || st.State == audio.StateStopped {
		cur, ok := s.Current()
		if !ok {
			return ErrNoTrack
		}
		_, err := s.PlayTrack(ctx, cur, true)
		return err
	}
	return s.transport.Resume()
}

// Stop stops playback and keeps the equalizer chain
func (s *Session) Stop() error {
	return s.transport.Stop(true)
}

// Seek schedules a debounced seek
func (s *Session) Seek(pos time.Duration) error {
	return s.transport.Seek(pos)
}

// SetPlaybackRate applies and persists the playback rate
func (s *Session) SetPlaybackRate(ctx context.Context, rate float64) error {
	if err := s.transport.SetPlaybackRate(rate); err != nil {
		return err
	}
	s.persist(ctx, store.KeyPlaybackRate, rate)
	return nil
}

// SetVolume sets the output volume
func (s *Session) SetVolume(v float64) {
	s.transport.SetVolume(v)
}

// SetEqualizerBand sets one band and returns the applied gain
func (s *Session) SetEqualizerBand(ctx context.Context, freq int, gainDB float64) (float64, error) {
	return s.transport.SetEqualizerBand(ctx, freq, gainDB)
}

func (s *Session) SetEqualizerEnabled(ctx context.Context, enabled bool) {
	s.transport.SetEqualizerEnabled(ctx, enabled)
}

func (s *Session) ResetEqualizer(ctx context.Context) {
	s.transport.ResetEqualizer(ctx)
}

// Events returns the transport's event bus
func (s *Session) Events() *audio.Events {
	return s.transport.Events()
}
