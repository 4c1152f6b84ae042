//go:build linux

package media

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusName         = "org.mpris.MediaPlayer2.streamd"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
	propertiesInterface  = "org.freedesktop.DBus.Properties"
)

var trackIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// MPRISSession implements MPRIS media session for Linux
type MPRISSession struct {
	mu         sync.Mutex
	conn       *dbus.Conn
	log        *zap.Logger
	handler    CommandHandler
	metadata   Metadata
	state      PlaybackState
	position   PositionState
	shuffle    bool
	loopStatus LoopStatus
}

// NewSession connects to the session bus and claims the streamd MPRIS name
func NewSession(log *zap.Logger) (Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", mprisBusName)
	}

	s := &MPRISSession{
		conn:       conn,
		log:        log,
		state:      StateStopped,
		position:   PositionState{Rate: 1},
		loopStatus: LoopNone,
	}

	path := dbus.ObjectPath(mprisObjectPath)
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, propertiesInterface} {
		if err := conn.Export(s, path, iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to export %s: %w", iface, err)
		}
	}

	return s, nil
}

func (s *MPRISSession) UpdateMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	m := s.metadataMapLocked()
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{"Metadata": dbus.MakeVariant(m)})
}

func (s *MPRISSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	s.mu.Lock()
	started := s.state != state && state == StatePlaying
	s.state = state
	s.position.Position = position
	s.mu.Unlock()

	if started {
		// clients extrapolate from Rate, so they only need the anchor
		if err := s.emitSeeked(position); err != nil {
			s.log.Debug("seeked signal failed", zap.Error(err))
		}
	}
	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(state.String()),
	})
}

func (s *MPRISSession) UpdatePositionState(ps PositionState) error {
	if ps.Rate <= 0 {
		ps.Rate = 1
	}
	s.mu.Lock()
	s.position = ps
	s.mu.Unlock()

	if err := s.emitSeeked(ps.Position); err != nil {
		return err
	}
	return s.emitPropertiesChanged(map[string]dbus.Variant{"Rate": dbus.MakeVariant(ps.Rate)})
}

func (s *MPRISSession) emitSeeked(position time.Duration) error {
	return s.conn.Emit(dbus.ObjectPath(mprisObjectPath), mprisPlayerInterface+".Seeked", position.Microseconds())
}

func (s *MPRISSession) UpdateShuffle(enabled bool) error {
	s.mu.Lock()
	s.shuffle = enabled
	s.mu.Unlock()
	return s.emitPropertiesChanged(map[string]dbus.Variant{"Shuffle": dbus.MakeVariant(enabled)})
}

func (s *MPRISSession) UpdateLoopStatus(status LoopStatus) error {
	s.mu.Lock()
	s.loopStatus = status
	s.mu.Unlock()
	return s.emitPropertiesChanged(map[string]dbus.Variant{"LoopStatus": dbus.MakeVariant(string(status))})
}

func (s *MPRISSession) SetCommandHandler(handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MPRISSession) dispatch(cmd Command, data interface{}) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return
	}
	// the bus call must not block on a track load
	go func() {
		if err := h.OnCommand(cmd, data); err != nil {
			s.log.Warn("media command failed", zap.Stringer("command", cmd), zap.Error(err))
		}
	}()
}

// org.mpris.MediaPlayer2

func (s *MPRISSession) Raise() *dbus.Error { return nil }

func (s *MPRISSession) Quit() *dbus.Error { return nil }

// org.mpris.MediaPlayer2.Player

func (s *MPRISSession) Play() *dbus.Error {
	s.dispatch(CmdPlay, nil)
	return nil
}

func (s *MPRISSession) Pause() *dbus.Error {
	s.dispatch(CmdPause, nil)
	return nil
}

func (s *MPRISSession) PlayPause() *dbus.Error {
	s.mu.Lock()
	playing := s.state == StatePlaying
	s.mu.Unlock()
	if playing {
		return s.Pause()
	}
	return s.Play()
}

func (s *MPRISSession) Stop() *dbus.Error {
	s.dispatch(CmdStop, nil)
	return nil
}

func (s *MPRISSession) Next() *dbus.Error {
	s.dispatch(CmdNext, nil)
	return nil
}

func (s *MPRISSession) Previous() *dbus.Error {
	s.dispatch(CmdPrevious, nil)
	return nil
}

// Seek is relative, in microseconds
func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	s.dispatch(CmdSeekRelative, time.Duration(offset)*time.Microsecond)
	return nil
}

func (s *MPRISSession) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	s.dispatch(CmdSeekTo, time.Duration(position)*time.Microsecond)
	return nil
}

// OpenUri is not supported: tracks are selected by catalog id, not by URL
func (s *MPRISSession) OpenUri(uri string) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("OpenUri is not supported"))
}

// org.freedesktop.DBus.Properties

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := s.GetAll(iface)
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return rootProperties(), nil
	case mprisPlayerInterface:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.playerPropertiesLocked(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}

	switch prop {
	case "Shuffle":
		enabled, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Shuffle"))
		}
		s.dispatch(CmdSetShuffle, enabled)
	case "LoopStatus":
		status, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		s.dispatch(CmdSetLoopStatus, LoopStatus(status))
	}
	return nil
}

func rootProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant("streamd"),
		"DesktopEntry":        dbus.MakeVariant("streamd"),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"http", "https"}),
		"SupportedMimeTypes":  dbus.MakeVariant([]string{"audio/mpeg", "audio/flac", "audio/mp4"}),
	}
}

func (s *MPRISSession) playerPropertiesLocked() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(s.state.String()),
		"Metadata":       dbus.MakeVariant(s.metadataMapLocked()),
		"Position":       dbus.MakeVariant(s.position.Position.Microseconds()),
		"Rate":           dbus.MakeVariant(s.position.Rate),
		"MinimumRate":    dbus.MakeVariant(0.5),
		"MaximumRate":    dbus.MakeVariant(2.0),
		"CanGoNext":      dbus.MakeVariant(true),
		"CanGoPrevious":  dbus.MakeVariant(true),
		"CanPlay":        dbus.MakeVariant(true),
		"CanPause":       dbus.MakeVariant(true),
		"CanSeek":        dbus.MakeVariant(s.position.Duration > 0),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(1.0),
		"Shuffle":        dbus.MakeVariant(s.shuffle),
		"LoopStatus":     dbus.MakeVariant(string(s.loopStatus)),
	}
}

func (s *MPRISSession) metadataMapLocked() map[string]dbus.Variant {
	md := s.metadata
	m := make(map[string]dbus.Variant)

	id := trackIDUnsafe.ReplaceAllString(md.TrackID, "_")
	if id == "" {
		id = "none"
	}
	m["mpris:trackid"] = dbus.MakeVariant(dbus.ObjectPath("/org/streamd/track/" + id))

	if md.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(md.Title)
	}
	if len(md.Artists) > 0 {
		m["xesam:artist"] = dbus.MakeVariant(md.Artists)
	}
	if md.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(md.Album)
	}
	if md.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(md.Duration.Microseconds())
	}
	if md.URL != "" {
		m["xesam:url"] = dbus.MakeVariant(md.URL)
	}
	if art := md.LargestArtwork(); art != "" {
		m["mpris:artUrl"] = dbus.MakeVariant(art)
	}
	return m
}

func (s *MPRISSession) emitPropertiesChanged(props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		propertiesInterface+".PropertiesChanged",
		mprisPlayerInterface,
		props,
		[]string{},
	)
}
