// Package ipc exposes the playback session to local clients as
// newline-delimited JSON over a unix socket.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/sleeptimer"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus CommandType = "status"
	CmdPlay   CommandType = "play"
	CmdPause  CommandType = "pause"
	CmdResume CommandType = "resume"
	CmdStop   CommandType = "stop"
	CmdNext   CommandType = "next"
	CmdPrev   CommandType = "prev"
	CmdSeek   CommandType = "seek"

	// Playback list
	CmdSetList    CommandType = "setList"
	CmdAddSongs   CommandType = "addSongs"
	CmdAddToNext  CommandType = "addToNext"
	CmdRemove     CommandType = "remove"
	CmdClear      CommandType = "clear"
	CmdToggleMode CommandType = "togglePlayMode"

	CmdSetRate   CommandType = "setRate"
	CmdSetVolume CommandType = "setVolume"

	CmdEQBand    CommandType = "eqBand"
	CmdEQReset   CommandType = "eqReset"
	CmdEQEnabled CommandType = "eqEnabled"

	CmdSleepTime  CommandType = "sleepTime"
	CmdSleepSongs CommandType = "sleepSongs"
	CmdSleepEnd   CommandType = "sleepEnd"
	CmdSleepClear CommandType = "sleepClear"

	CmdFavorite   CommandType = "favorite"
	CmdUnfavorite CommandType = "unfavorite"
	CmdReparse    CommandType = "reparse"

	// Push subscriptions
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"
)

// Push message types
const (
	PushLoad  = "load"
	PushPlay  = "play"
	PushPause = "pause"
	PushEnd   = "end"
)

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request. ID is echoed in the response; the
// server assigns one when it is empty.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PlayRequest is the data for a play command. Autoplay defaults to true.
type PlayRequest struct {
	Track    types.Track `json:"track"`
	Autoplay *bool       `json:"autoplay,omitempty"`
}

// PlayResponse reports how a play command ended
type PlayResponse struct {
	Result string `json:"result"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position int64 `json:"position"` // milliseconds
}

// ListRequest is the data for setList and addSongs
type ListRequest struct {
	Tracks    []types.Track `json:"tracks"`
	KeepIndex bool          `json:"keepIndex,omitempty"`
}

// AddSongsResponse is the response to addSongs
type AddSongsResponse struct {
	Added int `json:"added"`
}

// TrackRequest is the data for addToNext
type TrackRequest struct {
	Track types.Track `json:"track"`
}

// IndexRequest is the data for remove
type IndexRequest struct {
	Index int `json:"index"`
}

// RateRequest is the data for setRate
type RateRequest struct {
	Rate float64 `json:"rate"`
}

// VolumeRequest is the data for setVolume
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// EQBandRequest is the data for eqBand
type EQBandRequest struct {
	Frequency int     `json:"frequency"`
	Gain      float64 `json:"gain"`
}

// EQBandResponse carries the gain after clamping
type EQBandResponse struct {
	Gain float64 `json:"gain"`
}

// EnabledRequest is the data for eqEnabled
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SleepRequest is the data for sleepTime (minutes) and sleepSongs (count)
type SleepRequest struct {
	Value int `json:"value"`
}

// FavoriteRequest is the data for favorite and unfavorite
type FavoriteRequest struct {
	ID string `json:"id"`
}

// ReparseRequest is the data for reparse
type ReparseRequest struct {
	Origin string `json:"origin"`
}

// ModeResponse is the response to togglePlayMode
type ModeResponse struct {
	Mode string `json:"mode"`
}

// StatusResponse is the response to a status command
type StatusResponse struct {
	State          string                  `json:"state"`
	Track          *types.Track            `json:"track,omitempty"`
	URL            string                  `json:"url,omitempty"`
	Position       int64                   `json:"position"` // milliseconds
	Duration       int64                   `json:"duration"` // milliseconds
	Rate           float64                 `json:"rate"`
	Volume         float64                 `json:"volume"`
	Equalizer      audio.EqualizerSettings `json:"equalizer"`
	Index          int                     `json:"index"`
	Size           int                     `json:"size"`
	PlayMode       string                  `json:"playMode"`
	Sleep          sleeptimer.State        `json:"sleepTimer"`
	SleepRemaining int64                   `json:"sleepRemaining,omitempty"` // milliseconds
	Favorites      int                     `json:"favorites"`
}

// TrackEvent is pushed to subscribers on transport events
type TrackEvent struct {
	Track    types.Track `json:"track"`
	URL      string      `json:"url,omitempty"`
	Position int64       `json:"position,omitempty"` // milliseconds
	Duration int64       `json:"duration,omitempty"` // milliseconds
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.Cmd == "" {
		return nil, fmt.Errorf("failed to decode request: missing cmd")
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(PushMessage{Type: msgType, Data: rawData})
}
