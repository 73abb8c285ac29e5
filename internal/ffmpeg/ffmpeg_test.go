package ffmpeg

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

func TestBuildRelayArgs(t *testing.T) {
	args := BuildRelayArgs("rtsp://cam.local/stream1", types.TransportTCP, "rtmp://a.rtmp.youtube.com/live2/key")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-rtsp_transport tcp -i rtsp://cam.local/stream1",
		"-map 0:v:0 -map 0:a?",
		"-c:v copy -c:a copy",
		"-f flv rtmp://a.rtmp.youtube.com/live2/key",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "rtmp://a.rtmp.youtube.com/live2/key" {
		t.Errorf("ingest URL must be the last argument, got %q", args[len(args)-1])
	}
}

func TestBuildRelayArgsNonRTSPSource(t *testing.T) {
	args := BuildRelayArgs("http://cam.local/stream.m3u8", types.TransportTCP, "srt://ingest.example:9000")
	if slices.Contains(args, "-rtsp_transport") {
		t.Errorf("transport flag must only be set for RTSP sources: %v", args)
	}
	if i := slices.Index(args, "-f"); i < 0 || args[i+1] != "mpegts" {
		t.Errorf("expected mpegts output for non-RTMP ingest: %v", args)
	}
}

func TestBuildProbeArgs(t *testing.T) {
	args := BuildProbeArgs("rtsps://cam.local/s", types.TransportUDP)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-rtsp_transport udp -i rtsps://cam.local/s") {
		t.Errorf("unexpected probe input: %s", joined)
	}
	if !strings.HasSuffix(joined, "-t 1 -f null -") {
		t.Errorf("unexpected probe output: %s", joined)
	}
}

func TestOutputFormat(t *testing.T) {
	tests := map[string]string{
		"rtmp://a/b":        "flv",
		"RTMPS://a/b":       "flv",
		"srt://a:1":         "mpegts",
		"udp://239.0.0.1:1": "mpegts",
	}
	for in, want := range tests {
		if got := OutputFormat(in); got != want {
			t.Errorf("OutputFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTailBufferKeepsMostRecentBytes(t *testing.T) {
	b := NewTailBuffer(8)
	if _, err := b.Write([]byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("ghij")); err != nil {
		t.Fatal(err)
	}
	if got := b.String(); got != "cdefghij" {
		t.Errorf("String() = %q, want %q", got, "cdefghij")
	}
	if _, err := b.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if got := b.String(); got != "23456789" {
		t.Errorf("String() = %q, want %q", got, "23456789")
	}
}

func TestTailBufferLines(t *testing.T) {
	b := NewTailBuffer(DefaultTailBytes)
	_, _ = b.Write([]byte("one\ntwo\n\nthree\nfour\n"))

	if got := b.Lines(2); got != "three\nfour" {
		t.Errorf("Lines(2) = %q", got)
	}
	if got := b.Lines(10); got != "one\ntwo\nthree\nfour" {
		t.Errorf("Lines(10) = %q", got)
	}
	if got := b.Lines(0); got != "" {
		t.Errorf("Lines(0) = %q", got)
	}
}

// fakeFFmpeg writes an executable shell script standing in for FFmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessLifecycle(t *testing.T) {
	path := fakeFFmpeg(t, "echo 'Connection refused' >&2\nexec sleep 30")

	p, err := StartProcess(path, nil)
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	if p.Pid() == 0 {
		t.Fatal("expected a pid")
	}
	if !p.Alive() {
		t.Fatal("process should be alive")
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped")
	}
	if p.Alive() {
		t.Error("process should not be alive after exit")
	}
	if p.Err() == nil {
		t.Error("killed process should report an exit error")
	}
	if !strings.Contains(p.Output(), "Connection refused") {
		t.Errorf("stderr not captured: %q", p.Output())
	}
}

func TestProcessInterrupt(t *testing.T) {
	path := fakeFFmpeg(t, "trap 'exit 0' INT\nwhile true; do sleep 0.1; done")

	p, err := StartProcess(path, nil)
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := p.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		_ = p.Kill()
		t.Fatal("process ignored interrupt")
	}
	if err := p.Err(); err != nil {
		t.Errorf("graceful exit should be clean, got %v", err)
	}
}

func TestStartProcessMissingBinary(t *testing.T) {
	if _, err := StartProcess(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestProbe(t *testing.T) {
	ok := fakeFFmpeg(t, "exit 0")
	if _, err := Probe(t.Context(), ok, "rtsp://cam/s", types.TransportTCP, 2*time.Second); err != nil {
		t.Errorf("Probe: %v", err)
	}

	bad := fakeFFmpeg(t, "echo 'rtsp://cam/s: 401 Unauthorized' >&2\nexit 1")
	out, err := Probe(t.Context(), bad, "rtsp://cam/s", types.TransportTCP, 2*time.Second)
	if !strings.Contains(out, "401 Unauthorized") {
		t.Errorf("probe output not captured: %q", out)
	}
	if err == nil || !strings.Contains(err.Error(), "401 Unauthorized") {
		t.Errorf("Probe error = %v, want ffmpeg message", err)
	}

	slow := fakeFFmpeg(t, "exec sleep 10")
	_, err = Probe(t.Context(), slow, "rtsp://cam/s", types.TransportTCP, 200*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Probe error = %v, want timeout", err)
	}
}
