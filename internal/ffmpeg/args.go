package ffmpeg

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

// ProbeDuration is how much of the source a probe reads.
const ProbeDuration = time.Second

// BuildRelayArgs returns FFmpeg arguments that copy the first video and an
// optional audio track from source to ingestURL without re-encoding.
func BuildRelayArgs(source string, transport types.TransportMode, ingestURL string) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostats"}
	args = append(args, inputArgs(source, transport)...)
	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", OutputFormat(ingestURL),
		ingestURL,
	)
	return args
}

// BuildProbeArgs returns FFmpeg arguments that read a short sample of source
// and discard it.
func BuildProbeArgs(source string, transport types.TransportMode) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(source, transport)...)
	args = append(args,
		"-t", strconv.FormatFloat(ProbeDuration.Seconds(), 'f', -1, 64),
		"-f", "null", "-",
	)
	return args
}

func inputArgs(source string, transport types.TransportMode) []string {
	var args []string
	if isRTSP(source) && transport != "" {
		args = append(args, "-rtsp_transport", string(transport))
	}
	return append(args, "-i", source)
}

// OutputFormat returns the FFmpeg muxer for an ingest URL.
func OutputFormat(ingestURL string) string {
	switch scheme(ingestURL) {
	case "rtmp", "rtmps":
		return "flv"
	default:
		return "mpegts"
	}
}

func isRTSP(source string) bool {
	s := scheme(source)
	return s == "rtsp" || s == "rtsps"
}

func scheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Probe runs FFmpeg against source for a short sample and reports whether it
// could be read within timeout. The captured diagnostic output is returned
// in both cases.
func Probe(ctx context.Context, ffmpegPath, source string, transport types.TransportMode, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output := NewTailBuffer(DefaultTailBytes)
	cmd := exec.CommandContext(ctx, ffmpegPath, BuildProbeArgs(source, transport)...)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return output.String(), fmt.Errorf("source probe timed out after %s", timeout)
		}
		if msg := output.Lines(1); msg != "" {
			return output.String(), fmt.Errorf("source probe failed: %s", msg)
		}
		return output.String(), fmt.Errorf("source probe failed: %w", err)
	}
	return output.String(), nil
}
