package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFmpegDecoder turns a remote stream into s16le PCM by shelling out to ffmpeg.
// ffprobe doubles as the "loaded" check: a URL that yields a duration is playable.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder locates ffmpeg and ffprobe in PATH
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// atempoChain expresses rate as a chain of atempo filters, each within [0.5, 2]
func atempoChain(rate float64) string {
	if rate <= 0 || rate == 1 {
		return ""
	}
	var parts []string
	for rate > 2 {
		parts = append(parts, "atempo=2.0")
		rate /= 2
	}
	for rate < 0.5 {
		parts = append(parts, "atempo=0.5")
		rate /= 0.5
	}
	parts = append(parts, "atempo="+strconv.FormatFloat(rate, 'f', -1, 64))
	return strings.Join(parts, ",")
}

func decodeArgs(url string, f Format, start time.Duration, rate float64) []string {
	args := []string{"-nostdin", "-loglevel", "error"}
	if isRemote(url) {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "2")
	}
	if start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", start.Seconds()))
	}
	args = append(args, "-i", url)
	if chain := atempoChain(rate); chain != "" {
		args = append(args, "-filter:a", chain)
	}
	return append(args,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-",
	)
}

// DecodeFrom streams PCM for url starting at start into w until EOF or ctx is done
func (d *FFmpegDecoder) DecodeFrom(ctx context.Context, url string, w io.Writer, f Format, start time.Duration, rate float64) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, decodeArgs(url, f, start, rate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	buf := make([]byte, 4096)
	var copyErr error
	for {
		if ctx.Err() != nil {
			copyErr = ctx.Err()
			break
		}
		n, rerr := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				copyErr = fmt.Errorf("failed to write pcm: %w", werr)
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				copyErr = rerr
			}
			break
		}
	}

	if copyErr != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return copyErr
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Probe returns the stream duration. It fails for unreachable or non-audio URLs.
func (d *FFmpegDecoder) Probe(ctx context.Context, url string) (time.Duration, error) {
	args := []string{"-v", "error"}
	if isRemote(url) {
		args = append(args, "-rw_timeout", "10000000")
	}
	args = append(args,
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	)

	out, err := exec.CommandContext(ctx, d.ffprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeDuration(string(out))
}

func parseProbeDuration(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		// live or chunked streams have no duration but are still playable
		return 0, nil
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}
