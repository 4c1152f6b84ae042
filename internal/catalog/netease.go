package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// DefaultQuality is the level requested from the song url endpoint
const DefaultQuality = "exhigh"

// SongURL is the primary catalog's answer for a playable URL
type SongURL struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Fee   int    `json:"fee"`
	BR    int    `json:"br"`
	Trial *Trial `json:"freeTrialInfo"`
}

// Trial describes a preview-only URL
type Trial struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// HasTrial reports whether the URL is a preview
func (s *SongURL) HasTrial() bool {
	return s.Trial != nil
}

// RawLyric is the LRC text of a song and its translation
type RawLyric struct {
	Lyric       string
	Translation string
}

// Netease talks to a NeteaseCloudMusicApi compatible server
type Netease struct {
	baseURL string
	quality string
	cookie  string
	req     requester
}

// NewNetease creates a client for the API at baseURL
func NewNetease(baseURL, cookie string, opts ...Option) *Netease {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &Netease{
		baseURL: baseURL,
		quality: DefaultQuality,
		cookie:  cookie,
		req:     newRequester("netease", opts),
	}
}

// SetQuality changes the level passed to the song url endpoint
func (c *Netease) SetQuality(level string) {
	if level != "" {
		c.quality = level
	}
}

type apiStatus struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (s apiStatus) check() error {
	if s.Code != 200 {
		return fmt.Errorf("%w: code %d %s", ErrAPI, s.Code, s.Msg)
	}
	return nil
}

func (c *Netease) endpoint(path string, q url.Values) string {
	cookie := "os=pc"
	if c.cookie != "" {
		cookie += ";" + c.cookie
	}
	q.Set("cookie", cookie)
	return c.baseURL + path + "?" + q.Encode()
}

// SongURL fetches the playable URL and its pricing flags
func (c *Netease) SongURL(ctx context.Context, id string) (*SongURL, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("level", c.quality)

	var resp struct {
		apiStatus
		Data []SongURL `json:"data"`
	}
	if err := c.req.getJSON(ctx, c.endpoint("/song/url/v1", q), &resp); err != nil {
		return nil, fmt.Errorf("song url %s: %w", id, err)
	}
	if err := resp.check(); err != nil {
		return nil, fmt.Errorf("song url %s: %w", id, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("song url %s: %w: empty data", id, ErrAPI)
	}
	return &resp.Data[0], nil
}

// Lyric fetches the LRC text and translation of a song
func (c *Netease) Lyric(ctx context.Context, id string) (*RawLyric, error) {
	q := url.Values{}
	q.Set("id", id)

	var resp struct {
		apiStatus
		Lrc struct {
			Lyric string `json:"lyric"`
		} `json:"lrc"`
		Tlyric struct {
			Lyric string `json:"lyric"`
		} `json:"tlyric"`
	}
	if err := c.req.getJSON(ctx, c.endpoint("/lyric", q), &resp); err != nil {
		return nil, fmt.Errorf("lyric %s: %w", id, err)
	}
	if err := resp.check(); err != nil {
		return nil, fmt.Errorf("lyric %s: %w", id, err)
	}
	return &RawLyric{Lyric: resp.Lrc.Lyric, Translation: resp.Tlyric.Lyric}, nil
}

// Like marks or unmarks a song as liked on the server
func (c *Netease) Like(ctx context.Context, id string, liked bool) error {
	q := url.Values{}
	q.Set("id", id)
	q.Set("like", strconv.FormatBool(liked))

	var resp apiStatus
	if err := c.req.getJSON(ctx, c.endpoint("/like", q), &resp); err != nil {
		return fmt.Errorf("like %s: %w", id, err)
	}
	return resp.check()
}

// LikedList returns the ids of the songs a user has liked
func (c *Netease) LikedList(ctx context.Context, uid string) ([]string, error) {
	q := url.Values{}
	q.Set("uid", uid)

	var resp struct {
		apiStatus
		IDs []int64 `json:"ids"`
	}
	if err := c.req.getJSON(ctx, c.endpoint("/likelist", q), &resp); err != nil {
		return nil, fmt.Errorf("liked list: %w", err)
	}
	if err := resp.check(); err != nil {
		return nil, fmt.Errorf("liked list: %w", err)
	}
	ids := make([]string, 0, len(resp.IDs))
	for _, id := range resp.IDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids, nil
}
