package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/media"
	"github.com/austinkregel/local-media/streamd/internal/store"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// subscribe wires the transport events. Handlers that call back into the
// transport run on their own goroutine since events are published
// synchronously.
func (s *Session) subscribe() {
	ev := s.transport.Events()
	s.unsubs = append(s.unsubs,
		ev.End.Subscribe(func(e audio.EndEvent) { go s.onEnd(e) }),
		ev.URLExpired.Subscribe(s.onURLExpired),
		ev.LockForceReset.Subscribe(func(e audio.LockForceResetEvent) {
			s.log.Warn("operation lock force reset", zap.String("previous", e.PreviousID), zap.Time("at", e.At))
		}),
		ev.Error.Subscribe(func(e audio.ErrorEvent) {
			s.log.Debug("transport error", zap.String("op", string(e.Op)), zap.Error(e.Err))
		}),
	)
}

func (s *Session) onEnd(e audio.EndEvent) {
	if s.ctx.Err() != nil {
		return
	}
	if s.queue.Mode() == types.PlayModeLoop {
		cur, ok := s.Current()
		if !ok || cur.Identity() != e.Track.Identity() {
			return
		}
		if _, err := s.PlayTrack(s.ctx, cur, true); err != nil {
			s.log.Warn("failed to replay looped track", zap.Error(err))
		}
		return
	}
	if err := s.Next(s.ctx); err != nil {
		s.log.Warn("failed to advance after end", zap.Error(err))
	}
}

// onURLExpired drops the cached URL so the next selection re-resolves it
func (s *Session) onURLExpired(e audio.URLExpiredEvent) {
	id := e.Track.Identity()
	s.log.Info("url expired", zap.String("track", id.String()), zap.Error(e.Err))

	found := s.queue.Update(id, func(t *types.Track) { t.ClearURL() })

	s.mu.Lock()
	var cur *types.Track
	if s.current != nil && s.current.Identity() == id {
		s.current.ClearURL()
		c := *s.current
		cur = &c
	}
	s.mu.Unlock()

	if found {
		s.persistList(s.ctx)
	}
	if cur != nil {
		s.persist(s.ctx, store.KeyCurrentTrack, cur)
		s.forget(s.ctx, store.KeyCurrentURL)
	}
}

// OnCommand handles commands from the OS media session
func (s *Session) OnCommand(cmd media.Command, data interface{}) error {
	ctx := s.ctx
	s.log.Debug("media command", zap.Stringer("cmd", cmd))

	switch cmd {
	case media.CmdPlay:
		return s.Resume(ctx)
	case media.CmdPause:
		return s.Pause()
	case media.CmdPlayPause:
		if s.transport.Playing() {
			return s.Pause()
		}
		return s.Resume(ctx)
	case media.CmdStop:
		return s.Stop()
	case media.CmdNext:
		return s.Next(ctx)
	case media.CmdPrevious:
		return s.Prev(ctx)
	case media.CmdSeekTo:
		pos, _ := data.(time.Duration)
		return s.Seek(max(0, pos))
	case media.CmdSeekRelative:
		offset, _ := data.(time.Duration)
		if offset == 0 {
			offset = media.DefaultSeekOffset
		}
		return s.Seek(max(0, s.transport.Position()+offset))
	case media.CmdSetShuffle:
		on, _ := data.(bool)
		switch {
		case on:
			s.SetPlayMode(ctx, types.PlayModeShuffle)
		case s.queue.Mode() == types.PlayModeShuffle:
			s.SetPlayMode(ctx, types.PlayModeSequential)
		}
		return nil
	case media.CmdSetLoopStatus:
		status, _ := data.(media.LoopStatus)
		if status == media.LoopTrack {
			s.SetPlayMode(ctx, types.PlayModeLoop)
		} else {
			s.SetPlayMode(ctx, types.PlayModeSequential)
		}
		return nil
	}
	return nil
}
