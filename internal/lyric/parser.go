// Package lyric parses LRC text and loads time-indexed lyrics for tracks.
package lyric

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/austinkregel/local-media/streamd/internal/types"
)

var (
	timeRe = regexp.MustCompile(`(\d{2}:\d{2}(\.\d*)?)`)
	tagRe  = regexp.MustCompile(`\[(\d{2}):(\d{2})(\.(\d*))?\]`)
)

// Line is one parsed LRC line
type Line struct {
	Time float64
	Text string
}

// ParseLine reads the first mm:ss(.cc) timestamp of a line and strips every
// [mm:ss.cc] tag from its text. A line without a timestamp is at 0.
func ParseLine(s string) Line {
	s = strings.TrimRight(s, "\r")
	return Line{Time: parseTime(timeRe.FindString(s)), Text: strings.TrimSpace(tagRe.ReplaceAllString(s, ""))}
}

func parseTime(ts string) float64 {
	minutes, seconds, ok := strings.Cut(ts, ":")
	if !ok {
		return 0
	}
	m, err := strconv.Atoi(minutes)
	if err != nil {
		return 0
	}
	sec, err := strconv.ParseFloat(seconds, 64)
	if err != nil {
		return 0
	}
	return float64(m)*60 + sec
}

// Parse splits LRC text into lines
func Parse(lrc string) []Line {
	if lrc == "" {
		return nil
	}
	raw := strings.Split(lrc, "\n")
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, ParseLine(l))
	}
	return lines
}

// Build parses lrc and attaches translations from tlrc by equal timestamp.
// A translation is only attached to lines that have text of their own.
func Build(lrc, tlrc string) *types.Lyric {
	lines := Parse(lrc)

	translations := make(map[float64]string)
	for _, l := range Parse(tlrc) {
		translations[l.Time] = l.Text
	}

	out := &types.Lyric{
		Times: make([]float64, 0, len(lines)),
		Lines: make([]types.LyricLine, 0, len(lines)),
	}
	for _, l := range lines {
		line := types.LyricLine{Text: l.Text}
		if l.Text != "" {
			line.Translation = translations[l.Time]
		}
		out.Times = append(out.Times, l.Time)
		out.Lines = append(out.Lines, line)
	}
	return out
}

// Empty returns a lyric with no lines
func Empty() *types.Lyric {
	return &types.Lyric{Times: []float64{}, Lines: []types.LyricLine{}}
}
