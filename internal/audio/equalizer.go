package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrEqualizerSetup is returned when the filter chain cannot be built for a stream
	ErrEqualizerSetup = errors.New("equalizer setup failed")
	// ErrUnknownBand is returned for a frequency that is not one of EqualizerBands
	ErrUnknownBand = errors.New("unknown equalizer band")
)

// EqualizerBands are the peaking filter center frequencies in Hz
var EqualizerBands = [10]int{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

const (
	eqQ       = 1.0
	eqMaxGain = 12.0
)

// biquad is a direct form I peaking filter with per-channel history
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     []float64
}

func peaking(freq, gainDB float64, f Format) *biquad {
	bq := &biquad{
		x1: make([]float64, f.Channels),
		x2: make([]float64, f.Channels),
		y1: make([]float64, f.Channels),
		y2: make([]float64, f.Channels),
	}
	// at or above Nyquist the band is a pass-through
	if freq >= float64(f.SampleRate)/2 || gainDB == 0 {
		bq.b0 = 1
		return bq
	}

	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / float64(f.SampleRate)
	alpha := math.Sin(w0) / (2 * eqQ)
	cosw := math.Cos(w0)
	a0 := 1 + alpha/a

	bq.b0 = (1 + alpha*a) / a0
	bq.b1 = (-2 * cosw) / a0
	bq.b2 = (1 - alpha*a) / a0
	bq.a1 = (-2 * cosw) / a0
	bq.a2 = (1 - alpha/a) / a0
	return bq
}

func (bq *biquad) step(ch int, x float64) float64 {
	y := bq.b0*x + bq.b1*bq.x1[ch] + bq.b2*bq.x2[ch] - bq.a1*bq.y1[ch] - bq.a2*bq.y2[ch]
	bq.x2[ch], bq.x1[ch] = bq.x1[ch], x
	bq.y2[ch], bq.y1[ch] = bq.y1[ch], y
	return y
}

// EqualizerSettings is the persisted equalizer state
type EqualizerSettings struct {
	Gains   map[int]float64 `json:"gains"`
	Enabled bool            `json:"enabled"`
}

// Equalizer is a 10 band graphic equalizer over s16le PCM.
// Disabled, samples pass straight to the output stage; enabled, they run
// through f1..f10 first. Toggling only rewires. The gain stage after it is
// the output volume (OtoOutput.SetVolume).
type Equalizer struct {
	mu      sync.Mutex
	gains   [10]float64
	enabled bool
	format  Format
	filters []*biquad
}

// NewEqualizer creates a flat, disabled equalizer
func NewEqualizer() *Equalizer {
	return &Equalizer{}
}

func bandIndex(freq int) int {
	for i, f := range EqualizerBands {
		if f == freq {
			return i
		}
	}
	return -1
}

// SetBand sets the gain of one band, clamped to ±12 dB
func (e *Equalizer) SetBand(freq int, gainDB float64) (float64, error) {
	i := bandIndex(freq)
	if i < 0 {
		return 0, fmt.Errorf("%w: %d Hz", ErrUnknownBand, freq)
	}
	if math.IsNaN(gainDB) {
		gainDB = 0
	}
	gainDB = min(max(gainDB, -eqMaxGain), eqMaxGain)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.gains[i] = gainDB
	if e.filters != nil {
		prev := e.filters[i]
		e.filters[i] = peaking(float64(freq), gainDB, e.format)
		// keep history so a gain change does not click
		e.filters[i].x1, e.filters[i].x2 = prev.x1, prev.x2
		e.filters[i].y1, e.filters[i].y2 = prev.y1, prev.y2
	}
	return gainDB, nil
}

// Reset flattens every band
func (e *Equalizer) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gains = [10]float64{}
	if e.filters != nil {
		e.buildLocked()
	}
}

func (e *Equalizer) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

func (e *Equalizer) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Settings returns a copy of the current gains and enabled flag
func (e *Equalizer) Settings() EqualizerSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	gains := make(map[int]float64, len(EqualizerBands))
	for i, f := range EqualizerBands {
		gains[f] = e.gains[i]
	}
	return EqualizerSettings{Gains: gains, Enabled: e.enabled}
}

// Apply restores persisted settings. Unknown bands are ignored.
func (e *Equalizer) Apply(s EqualizerSettings) {
	for f, g := range s.Gains {
		_, _ = e.SetBand(f, g)
	}
	e.SetEnabled(s.Enabled)
}

// Attach builds the filter chain for a stream format
func (e *Equalizer) Attach(f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: invalid format %dHz/%dch", ErrEqualizerSetup, f.SampleRate, f.Channels)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.format = f
	e.buildLocked()
	return nil
}

// Detach drops the filter chain but keeps gains
func (e *Equalizer) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = nil
}

// Attached reports whether a filter chain exists
func (e *Equalizer) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters != nil
}

func (e *Equalizer) buildLocked() {
	e.filters = make([]*biquad, len(EqualizerBands))
	for i, freq := range EqualizerBands {
		e.filters[i] = peaking(float64(freq), e.gains[i], e.format)
	}
}

// Process runs interleaved s16le PCM through the active topology in place
func (e *Equalizer) Process(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.filters == nil || !e.enabled {
		return
	}

	channels := e.format.Channels
	for i := 0; i+1 < len(pcm); i += 2 {
		ch := (i / 2) % channels
		x := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		for _, bq := range e.filters {
			x = bq.step(ch, x)
		}
		s := int16(min(max(math.Round(x), math.MinInt16), math.MaxInt16))
		pcm[i] = byte(s)
		pcm[i+1] = byte(s >> 8)
	}
}
