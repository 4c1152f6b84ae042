package catalog

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// DefaultKuwoAPI is the public kw-api mirror
const DefaultKuwoAPI = "https://kw-api.cenguigui.cn"

// InstrumentalLyric is returned for songs whose lyric list is empty
const InstrumentalLyric = "[00:00.00]Instrumental, enjoy the music"

// Kuwo talks to a kw-api server
type Kuwo struct {
	baseURL string
	req     requester
}

// NewKuwo creates a client for the kw-api at baseURL
func NewKuwo(baseURL string, opts ...Option) *Kuwo {
	if baseURL == "" {
		baseURL = DefaultKuwoAPI
	}
	return &Kuwo{baseURL: strings.TrimRight(baseURL, "/"), req: newRequester("kuwo", opts)}
}

// PlayURL builds the streaming URL of a song. No request is made; the server
// redirects to the audio when the URL is opened.
func (c *Kuwo) PlayURL(id, quality string) string {
	if quality == "" {
		quality = DefaultQuality
	}
	q := url.Values{}
	q.Set("id", id)
	q.Set("type", "song")
	q.Set("level", quality)
	q.Set("format", "mp3")
	return c.baseURL + "?" + q.Encode()
}

// Lyric fetches a song's line lyric and renders it as LRC text
func (c *Kuwo) Lyric(ctx context.Context, id string) (string, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("type", "lyr")
	q.Set("format", "lineLyric")

	var resp struct {
		apiStatus
		Data *struct {
			Lines []struct {
				Text string `json:"lineLyric"`
				Time string `json:"time"`
			} `json:"lrclist"`
		} `json:"data"`
	}
	if err := c.req.getJSON(ctx, c.baseURL+"?"+q.Encode(), &resp); err != nil {
		return "", fmt.Errorf("kuwo lyric %s: %w", id, err)
	}
	if err := resp.check(); err != nil {
		return "", fmt.Errorf("kuwo lyric %s: %w", id, err)
	}
	if resp.Data == nil || resp.Data.Lines == nil {
		return "", fmt.Errorf("kuwo lyric %s: %w: missing lrclist", id, ErrAPI)
	}
	if len(resp.Data.Lines) == 0 {
		return InstrumentalLyric, nil
	}

	var b strings.Builder
	for i, line := range resp.Data.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(lrcTimestamp(line.Time))
		b.WriteString(line.Text)
	}
	return b.String(), nil
}

// lrcTimestamp renders seconds as [mm:ss.cc]
func lrcTimestamp(secs string) string {
	t, err := strconv.ParseFloat(secs, 64)
	if err != nil || t < 0 || math.IsNaN(t) {
		return "[00:00.00]"
	}
	minutes := int(t / 60)
	seconds := int(math.Mod(t, 60))
	centis := int(math.Mod(t*100, 100))
	return fmt.Sprintf("[%02d:%02d.%02d]", minutes, seconds, centis)
}
