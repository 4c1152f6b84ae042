package session

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/sleeptimer"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// Next plays the entry after the current one. In sequential mode with the
// list-end sleep timer set on the last entry, it stops playback instead.
func (s *Session) Next(ctx context.Context) error {
	idx, n := s.queue.Position()
	if n == 0 {
		return ErrEmptyList
	}
	if s.sleep != nil && s.queue.Mode() == types.PlayModeSequential && idx == n-1 &&
		s.sleep.State().Kind == sleeptimer.KindEnd {
		s.sleep.StopPlayback(ctx)
		return nil
	}
	return s.advance(ctx, s.queue.NextIndex(), true)
}

// Prev plays the entry before the current one
func (s *Session) Prev(ctx context.Context) error {
	if s.queue.Len() == 0 {
		return ErrEmptyList
	}
	return s.advance(ctx, s.queue.PrevIndex(), false)
}

// advance tries up to min(3, n) distinct entries starting at first. A failing
// entry is removed from the list. When every candidate fails the original
// index is restored and playback stops.
func (s *Session) advance(ctx context.Context, first int, forward bool) error {
	orig, hadOrig := s.queue.Current()
	tries := min(maxAdvanceTries, s.queue.Len())
	attempted := make(map[types.Identity]bool)

	var lastErr error
	idx := first
	for ; tries > 0 && idx >= 0; tries-- {
		track, ok := s.queue.At(idx)
		if !ok {
			break
		}
		attempted[track.Identity()] = true
		s.queue.SetIndex(idx)

		res, err := s.PlayTrack(ctx, track, true)
		if err == nil {
			if forward && res == ResultPlayed {
				s.songChanged(ctx)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.log.Warn("removing unplayable track", zap.String("track", track.Identity().String()), zap.Error(err))
		s.queue.RemoveIdentity(track.Identity())
		s.persistList(ctx)
		idx = s.candidate(idx, forward, attempted)
	}

	if hadOrig {
		if i := s.queue.IndexOf(orig.Identity()); i >= 0 {
			s.queue.SetIndex(i)
		}
	}
	s.persistList(ctx)
	if err := s.transport.Stop(true); err != nil {
		s.log.Warn("failed to stop after exhausting candidates", zap.Error(err))
	}
	return wrapAdvance(lastErr)
}

// candidate picks the next untried entry after the one removed at removedAt
func (s *Session) candidate(removedAt int, forward bool, attempted map[types.Identity]bool) int {
	items := s.queue.Items()
	n := len(items)
	if n == 0 {
		return -1
	}

	order := make([]int, 0, n)
	switch {
	case s.queue.Mode() == types.PlayModeShuffle:
		order = rand.Perm(n)
	case forward:
		// the entry that followed the removed one now sits at removedAt
		for k := 0; k < n; k++ {
			order = append(order, (removedAt+k)%n)
		}
	default:
		for k := 1; k <= n; k++ {
			order = append(order, ((removedAt-k)%n+n)%n)
		}
	}
	for _, i := range order {
		if !attempted[items[i].Identity()] {
			return i
		}
	}
	return -1
}

func (s *Session) songChanged(ctx context.Context) {
	if s.sleep == nil {
		return
	}
	idx, n := s.queue.Position()
	s.sleep.HandleSongChange(ctx, idx == n-1, s.queue.Mode())
}
