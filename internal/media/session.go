// Package media provides OS-level now-playing integration.
package media

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// String returns the MPRIS spelling of the state
func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Artwork is one size variant of the cover image
type Artwork struct {
	URL  string
	Size int
}

// ArtworkSizes are the square variants published to the OS
var ArtworkSizes = []int{96, 128, 192, 256, 384, 512}

// ArtworkVariants builds the sized cover URLs for a catalog picture
func ArtworkVariants(picURL string) []Artwork {
	if picURL == "" {
		return nil
	}
	sep := "?"
	if strings.Contains(picURL, "?") {
		sep = "&"
	}
	out := make([]Artwork, 0, len(ArtworkSizes))
	for _, s := range ArtworkSizes {
		out = append(out, Artwork{
			URL:  fmt.Sprintf("%s%sparam=%dy%d", picURL, sep, s, s),
			Size: s,
		})
	}
	return out
}

// Metadata contains track metadata for media session display
type Metadata struct {
	TrackID  string
	Title    string
	Artists  []string
	Album    string
	Duration time.Duration
	URL      string
	Artwork  []Artwork
}

// Artist joins the artist names the way most shells display them
func (m Metadata) Artist() string {
	return strings.Join(m.Artists, " / ")
}

// LargestArtwork returns the biggest artwork URL, or ""
func (m Metadata) LargestArtwork() string {
	best := Artwork{}
	for _, a := range m.Artwork {
		if a.Size >= best.Size {
			best = a
		}
	}
	return best.URL
}

// PositionState is the position snapshot pushed after load, seek and rate changes
type PositionState struct {
	Duration time.Duration
	Rate     float64
	Position time.Duration
}

// LoopStatus represents the loop/repeat mode for MPRIS
type LoopStatus string

const (
	LoopNone     LoopStatus = "None"
	LoopTrack    LoopStatus = "Track"
	LoopPlaylist LoopStatus = "Playlist"
)

// Session is the interface for OS media session integration
type Session interface {
	// UpdateMetadata updates the currently playing track metadata
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state and position
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	// UpdatePositionState publishes duration, rate and position together
	UpdatePositionState(state PositionState) error

	UpdateShuffle(enabled bool) error

	UpdateLoopStatus(status LoopStatus) error

	// SetCommandHandler sets the handler for media commands (play, pause, etc.)
	SetCommandHandler(handler CommandHandler)

	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	// CmdSeekTo carries an absolute time.Duration
	CmdSeekTo
	// CmdSeekRelative carries a signed time.Duration offset, zero meaning DefaultSeekOffset
	CmdSeekRelative
	CmdSetShuffle
	CmdSetLoopStatus
)

// DefaultSeekOffset is used when a relative seek carries no offset
const DefaultSeekOffset = 10 * time.Second

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdNext:
		return "Next"
	case CmdPrevious:
		return "Previous"
	case CmdSeekTo:
		return "SeekTo"
	case CmdSeekRelative:
		return "SeekRelative"
	case CmdSetShuffle:
		return "SetShuffle"
	case CmdSetLoopStatus:
		return "SetLoopStatus"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession is a session that does nothing
// Used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(metadata Metadata) error { return nil }

func (s *NoOpSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	return nil
}

func (s *NoOpSession) UpdatePositionState(state PositionState) error { return nil }

func (s *NoOpSession) UpdateShuffle(enabled bool) error { return nil }

func (s *NoOpSession) UpdateLoopStatus(status LoopStatus) error { return nil }

func (s *NoOpSession) SetCommandHandler(handler CommandHandler) {}

func (s *NoOpSession) Close() error { return nil }

// Recorder is an in-memory Session that remembers the last value of every update.
// The daemon uses it when no OS surface is available so Status can still report
// what would have been published.
type Recorder struct {
	mu       sync.Mutex
	metadata Metadata
	state    PlaybackState
	position PositionState
	shuffle  bool
	loop     LoopStatus
	handler  CommandHandler
	updates  int
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{loop: LoopNone}
}

func (r *Recorder) UpdateMetadata(metadata Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = metadata
	r.updates++
	return nil
}

func (r *Recorder) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.position.Position = position
	r.updates++
	return nil
}

func (r *Recorder) UpdatePositionState(state PositionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = state
	r.updates++
	return nil
}

func (r *Recorder) UpdateShuffle(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shuffle = enabled
	return nil
}

func (r *Recorder) UpdateLoopStatus(status LoopStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loop = status
	return nil
}

func (r *Recorder) SetCommandHandler(handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

func (r *Recorder) Close() error { return nil }

// Metadata returns the last published metadata
func (r *Recorder) Metadata() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

// State returns the last published playback state
func (r *Recorder) State() PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Position returns the last published position state
func (r *Recorder) Position() PositionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Modes returns the last published shuffle flag and loop status
func (r *Recorder) Modes() (bool, LoopStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuffle, r.loop
}

// Dispatch forwards a command to the registered handler, as an OS surface would
func (r *Recorder) Dispatch(cmd Command, data interface{}) error {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no command handler for %s", cmd)
	}
	return h.OnCommand(cmd, data)
}
