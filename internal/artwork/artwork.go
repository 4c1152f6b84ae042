// Package artwork derives display colors from a track's cover art.
package artwork

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoArtwork is returned for tracks without a cover URL
var ErrNoArtwork = errors.New("no artwork")

// thumbParam asks the image CDN for a tiny thumbnail
const thumbParam = "30y30"

// Colors are CSS color strings derived from a cover
type Colors struct {
	Background string `json:"backgroundColor"`
	Primary    string `json:"primaryColor"`
}

// RGB is an 8-bit color
type RGB struct {
	R, G, B uint8
}

func (c RGB) css() string {
	return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
}

func (c RGB) scale(f float64) RGB {
	ch := func(v uint8) uint8 {
		x := float64(v) * f
		if x > 255 {
			return 255
		}
		return uint8(x)
	}
	return RGB{ch(c.R), ch(c.G), ch(c.B)}
}

// luminance returns the relative luminance in [0, 1]
func (c RGB) luminance() float64 {
	return (0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)) / 255
}

// Extractor downloads cover thumbnails and computes colors
type Extractor struct {
	client *http.Client
	log    *zap.Logger
}

// NewExtractor creates an extractor. A nil client uses a 10s timeout.
func NewExtractor(client *http.Client, log *zap.Logger) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{client: client, log: log.Named("artwork")}
}

// ThumbURL appends the thumbnail size parameter to a cover URL
func ThumbURL(picURL string) string {
	if picURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(picURL, "?") {
		sep = "&"
	}
	return picURL + sep + "param=" + thumbParam
}

// Colors fetches the cover thumbnail and returns its gradient and accent
func (e *Extractor) Colors(ctx context.Context, picURL string) (Colors, error) {
	if picURL == "" {
		return Colors{}, ErrNoArtwork
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ThumbURL(picURL), nil)
	if err != nil {
		return Colors{}, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return Colors{}, fmt.Errorf("failed to fetch artwork: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Colors{}, fmt.Errorf("failed to fetch artwork: status %d", resp.StatusCode)
	}

	img, format, err := image.Decode(resp.Body)
	if err != nil {
		return Colors{}, fmt.Errorf("failed to decode artwork: %w", err)
	}
	e.log.Debug("decoded artwork", zap.String("format", format), zap.Stringer("bounds", img.Bounds()))
	return FromImage(img), nil
}

// FromImage computes colors from the average pixel of img
func FromImage(img image.Image) Colors {
	avg := Average(img)
	top := avg.scale(0.9)
	bottom := avg.scale(0.45)

	primary := RGB{255, 255, 255}
	if avg.luminance() > 0.7 {
		primary = avg.scale(0.3)
	}
	return Colors{
		Background: fmt.Sprintf("linear-gradient(to bottom, %s 0%%, %s 100%%)", top.css(), bottom.css()),
		Primary:    primary.css(),
	}
}

// Average returns the mean color of img
func Average(img image.Image) RGB {
	b := img.Bounds()
	var r, g, bl, n uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			bl += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return RGB{}
	}
	return RGB{uint8(r / n), uint8(g / n), uint8(bl / n)}
}
