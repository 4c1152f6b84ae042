package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/logger"
	"github.com/austinkregel/local-media/streamd/internal/session"
	"github.com/austinkregel/local-media/streamd/internal/sleeptimer"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// ErrNoSleepTimer is returned for sleep commands when no timer is configured
var ErrNoSleepTimer = errors.New("sleep timer unavailable")

// Player is the playback surface the server drives. *session.Session
// implements it.
type Player interface {
	Status() session.Status
	PlayTrack(ctx context.Context, track types.Track, autoplay bool) (session.Result, error)
	Pause() error
	Resume(ctx context.Context) error
	Stop() error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Seek(pos time.Duration) error

	SetList(ctx context.Context, tracks []types.Track, keepIndex bool)
	AddSongs(ctx context.Context, tracks []types.Track) (int, error)
	AddToNext(ctx context.Context, track types.Track) error
	Remove(ctx context.Context, index int) error
	ClearAll(ctx context.Context) error
	TogglePlayMode(ctx context.Context) types.PlayMode

	SetPlaybackRate(ctx context.Context, rate float64) error
	SetVolume(v float64)
	SetEqualizerBand(ctx context.Context, freq int, gainDB float64) (float64, error)
	SetEqualizerEnabled(ctx context.Context, enabled bool)
	ResetEqualizer(ctx context.Context)

	Sleep() *sleeptimer.Timer
	AddFavorite(ctx context.Context, id string)
	RemoveFavorite(ctx context.Context, id string)
	Reparse(ctx context.Context, origin types.Origin) (session.Result, error)

	Events() *audio.Events
}

var _ Player = (*session.Session)(nil)

type client struct {
	conn       net.Conn
	wmu        sync.Mutex
	subscribed bool
}

func (c *client) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	player     Player
	log        *zap.Logger

	listener net.Listener
	mu       sync.Mutex
	clients  map[net.Conn]*client
}

// NewServer creates a new IPC server
func NewServer(socketPath string, player Player, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		player:     player,
		log:        logger.OrNop(log).Named("ipc"),
		clients:    make(map[net.Conn]*client),
	}
}

// Start listens on the unix socket and serves clients until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// user-only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.log.Info("listening", zap.String("socket", s.socketPath))
	err = s.Serve(ctx, listener)
	os.RemoveAll(s.socketPath)
	return err
}

// Serve accepts clients on listener until ctx is cancelled, then closes
// every connection
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.listener = listener
	unsubs := s.subscribe()
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	go s.acceptLoop(ctx)
	<-ctx.Done()

	s.mu.Lock()
	count := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	listener.Close()
	s.log.Info("server stopped", zap.Int("closedClients", count))
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		c := &client{conn: conn}
		s.mu.Lock()
		s.clients[conn] = c
		count := len(s.clients)
		s.mu.Unlock()
		s.log.Debug("client connected", zap.Int("clients", count))

		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.conn)
		count := len(s.clients)
		s.mu.Unlock()
		s.log.Debug("client disconnected", zap.Int("clients", count))
	}()

	reader := bufio.NewReader(c.conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			s.log.Debug("invalid request", zap.Error(err))
			if err := s.send(c, NewErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		start := time.Now()
		resp := s.handleRequest(ctx, c, req)
		resp.ID = req.ID

		log := s.log.With(zap.String("id", req.ID), zap.String("cmd", string(req.Cmd)), zap.Duration("took", time.Since(start)))
		switch {
		case !resp.Success:
			log.Warn("command failed", zap.String("error", resp.Error))
		case req.Cmd != CmdStatus:
			log.Debug("command handled")
		}

		if err := s.send(c, resp); err != nil {
			s.log.Debug("send failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) send(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.write(append(data, '\n'))
}

// decode unmarshals req.Data into v; an empty payload is an error
func decode(req *Request, v any) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%s: missing data", req.Cmd)
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return fmt.Errorf("invalid %s request: %w", req.Cmd, err)
	}
	return nil
}

func fail(err error) *Response {
	return NewErrorResponse(err.Error())
}

func success(data any) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdStatus:
		return s.handleStatus()
	case CmdPlay:
		return s.handlePlay(ctx, req)
	case CmdPause:
		return s.statusOr(s.player.Pause())
	case CmdResume:
		return s.statusOr(s.player.Resume(ctx))
	case CmdStop:
		return s.statusOr(s.player.Stop())
	case CmdNext:
		return s.statusOr(s.player.Next(ctx))
	case CmdPrev:
		return s.statusOr(s.player.Prev(ctx))
	case CmdSeek:
		return s.handleSeek(req)

	case CmdSetList:
		var r ListRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		s.player.SetList(ctx, r.Tracks, r.KeepIndex)
		return s.handleStatus()
	case CmdAddSongs:
		var r ListRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		added, err := s.player.AddSongs(ctx, r.Tracks)
		if err != nil {
			return fail(err)
		}
		return success(AddSongsResponse{Added: added})
	case CmdAddToNext:
		var r TrackRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		if r.Track.Identity().IsZero() {
			return NewErrorResponse("track id is required")
		}
		return s.statusOr(s.player.AddToNext(ctx, r.Track))
	case CmdRemove:
		var r IndexRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		return s.statusOr(s.player.Remove(ctx, r.Index))
	case CmdClear:
		return s.statusOr(s.player.ClearAll(ctx))
	case CmdToggleMode:
		return success(ModeResponse{Mode: s.player.TogglePlayMode(ctx).String()})

	case CmdSetRate:
		var r RateRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		return s.statusOr(s.player.SetPlaybackRate(ctx, r.Rate))
	case CmdSetVolume:
		var r VolumeRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		s.player.SetVolume(r.Level)
		return s.handleStatus()

	case CmdEQBand:
		var r EQBandRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		gain, err := s.player.SetEqualizerBand(ctx, r.Frequency, r.Gain)
		if err != nil {
			return fail(err)
		}
		return success(EQBandResponse{Gain: gain})
	case CmdEQReset:
		s.player.ResetEqualizer(ctx)
		return s.handleStatus()
	case CmdEQEnabled:
		var r EnabledRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		s.player.SetEqualizerEnabled(ctx, r.Enabled)
		return s.handleStatus()

	case CmdSleepTime, CmdSleepSongs, CmdSleepEnd, CmdSleepClear:
		return s.handleSleep(ctx, req)

	case CmdFavorite, CmdUnfavorite:
		var r FavoriteRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		if r.ID == "" {
			return NewErrorResponse("id is required")
		}
		if req.Cmd == CmdFavorite {
			s.player.AddFavorite(ctx, r.ID)
		} else {
			s.player.RemoveFavorite(ctx, r.ID)
		}
		return s.handleStatus()
	case CmdReparse:
		var r ReparseRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		res, err := s.player.Reparse(ctx, types.ParseOrigin(r.Origin))
		if err != nil {
			return fail(err)
		}
		return success(PlayResponse{Result: res.String()})

	case CmdSubscribe, CmdUnsubscribe:
		on := req.Cmd == CmdSubscribe
		c.wmu.Lock()
		c.subscribed = on
		c.wmu.Unlock()
		return success(map[string]bool{"subscribed": on})
	default:
		return NewErrorResponse("unknown command")
	}
}

func (s *Server) handlePlay(ctx context.Context, req *Request) *Response {
	var r PlayRequest
	if err := decode(req, &r); err != nil {
		return fail(err)
	}
	if r.Track.Identity().IsZero() {
		return NewErrorResponse("track id is required")
	}
	autoplay := r.Autoplay == nil || *r.Autoplay

	res, err := s.player.PlayTrack(ctx, r.Track, autoplay)
	if err != nil {
		return fail(err)
	}
	return success(PlayResponse{Result: res.String()})
}

func (s *Server) handleSeek(req *Request) *Response {
	var r SeekRequest
	if err := decode(req, &r); err != nil {
		return fail(err)
	}
	if r.Position < 0 {
		r.Position = 0
	}
	return s.statusOr(s.player.Seek(time.Duration(r.Position) * time.Millisecond))
}

func (s *Server) handleSleep(ctx context.Context, req *Request) *Response {
	timer := s.player.Sleep()
	if timer == nil {
		return fail(ErrNoSleepTimer)
	}

	switch req.Cmd {
	case CmdSleepTime, CmdSleepSongs:
		var r SleepRequest
		if err := decode(req, &r); err != nil {
			return fail(err)
		}
		set := timer.SetByTime
		if req.Cmd == CmdSleepSongs {
			set = timer.SetBySongs
		}
		if !set(ctx, r.Value) {
			return NewErrorResponse("value must be positive")
		}
	case CmdSleepEnd:
		timer.SetAtListEnd(ctx)
	default:
		timer.Clear(ctx)
	}
	return s.handleStatus()
}

// statusOr answers err, or the current status when err is nil
func (s *Server) statusOr(err error) *Response {
	if err != nil {
		return fail(err)
	}
	return s.handleStatus()
}

func (s *Server) handleStatus() *Response {
	return success(toStatusResponse(s.player.Status()))
}

func toStatusResponse(st session.Status) StatusResponse {
	resp := StatusResponse{
		State:          string(st.Transport.State),
		Track:          st.Current,
		URL:            st.Transport.URL,
		Position:       st.Transport.Position.Milliseconds(),
		Duration:       st.Transport.Duration.Milliseconds(),
		Rate:           st.Transport.Rate,
		Volume:         st.Transport.Volume,
		Equalizer:      st.Transport.Equalizer,
		Index:          st.Index,
		Size:           st.Size,
		PlayMode:       st.PlayMode.String(),
		Sleep:          st.Sleep,
		SleepRemaining: st.SleepRemaining.Milliseconds(),
		Favorites:      st.Favorites,
	}
	if resp.Track == nil {
		resp.Track = st.Transport.Track
	}
	return resp
}

// subscribe forwards transport events to subscribed clients
func (s *Server) subscribe() []func() {
	ev := s.player.Events()
	return []func(){
		ev.Load.Subscribe(func(e audio.LoadEvent) {
			s.push(PushLoad, TrackEvent{Track: e.Track, URL: e.URL, Duration: e.Duration.Milliseconds()})
		}),
		ev.Play.Subscribe(func(e audio.PlayEvent) {
			s.push(PushPlay, TrackEvent{Track: e.Track, Position: e.Position.Milliseconds()})
		}),
		ev.Pause.Subscribe(func(e audio.PauseEvent) {
			s.push(PushPause, TrackEvent{Track: e.Track, Position: e.Position.Milliseconds()})
		}),
		ev.End.Subscribe(func(e audio.EndEvent) {
			s.push(PushEnd, TrackEvent{Track: e.Track})
		}),
	}
}

func (s *Server) push(msgType string, data any) {
	s.mu.Lock()
	subs := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	msg, err := NewPushMessage(msgType, data)
	if err != nil {
		s.log.Warn("failed to encode push message", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg = append(msg, '\n')

	for _, c := range subs {
		c.wmu.Lock()
		on := c.subscribed
		c.wmu.Unlock()
		if !on {
			continue
		}
		if err := c.write(msg); err != nil {
			s.log.Debug("push failed, dropping subscription", zap.Error(err))
			c.wmu.Lock()
			c.subscribed = false
			c.wmu.Unlock()
		}
	}
}
