// Package audio drives streamed playback: one device handle at a time behind an
// operation lock, an optional equalizer, and a typed event bus.
package audio

import (
	"context"
	"time"
)

// Format describes interleaved signed 16-bit PCM
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 44.1kHz stereo
var DefaultFormat = Format{SampleRate: 44100, Channels: 2}

// Processor transforms PCM in place before it reaches the output
type Processor interface {
	Process(pcm []byte)
}

// Handle is one opened stream. A handle is loaded once and then played, paused
// and seeked until it is unloaded.
type Handle interface {
	URL() string

	// Load blocks until the stream reports its duration or fails
	Load(ctx context.Context) error
	Loaded() bool

	Play() error
	Pause() error
	Stop() error
	// Unload stops playback and releases the stream
	Unload()

	Seek(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	Playing() bool

	// SetRate changes playback speed for this handle and its decoder
	SetRate(rate float64) error

	// SetProcessor attaches p to the handle's PCM path, nil detaches
	SetProcessor(p Processor)
	Format() Format

	// Done is closed when the stream plays through to its end
	Done() <-chan struct{}
}

// Device opens handles against a single shared output
type Device interface {
	Open(url string) (Handle, error)
	SetVolume(v float64)
	Volume() float64
	Close() error
}
