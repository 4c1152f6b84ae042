package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/austinkregel/local-media/streamd/internal/types"
)

// Unblock asks a match service for an alternative URL of a primary catalog track
type Unblock struct {
	baseURL string
	req     requester
}

// NewUnblock creates a client for the match service at baseURL
func NewUnblock(baseURL string, opts ...Option) *Unblock {
	return &Unblock{baseURL: strings.TrimRight(baseURL, "/"), req: newRequester("unblock", opts)}
}

// Unblock returns a playable URL for track, or an error when no source matched
func (c *Unblock) Unblock(ctx context.Context, track *types.Track) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: no unblock endpoint configured", ErrAPI)
	}
	q := url.Values{}
	q.Set("id", track.ID)
	q.Set("name", track.Name)
	q.Set("artist", strings.Join(track.ArtistNames(), " "))
	if track.Album != "" {
		q.Set("album", track.Album)
	}

	var resp struct {
		apiStatus
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := c.req.getJSON(ctx, c.baseURL+"/match?"+q.Encode(), &resp); err != nil {
		return "", fmt.Errorf("unblock %s: %w", track.ID, err)
	}
	if err := resp.check(); err != nil {
		return "", fmt.Errorf("unblock %s: %w", track.ID, err)
	}
	if resp.Data.URL == "" {
		return "", fmt.Errorf("unblock %s: %w: no match", track.ID, ErrAPI)
	}
	return resp.Data.URL, nil
}
