//go:build windows

package util

import (
	"io"
	"os"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// On Windows, this is a no-op since we use stdin-based shutdown for FFmpeg.
func GracefulSignal(p *os.Process) error {
	return nil
}

// TerminateSignal terminates the process. Windows has no SIGTERM equivalent.
func TerminateSignal(p *os.Process) error {
	return p.Kill()
}

// ProcessAlive reports whether a process with pid can be opened.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// StopFFmpegViaStdin sends 'q' command to FFmpeg's stdin for graceful shutdown.
// This is the preferred method on Windows where SIGINT is not supported.
func StopFFmpegViaStdin(stdin io.WriteCloser) error {
	if stdin == nil {
		return nil
	}
	_, _ = stdin.Write([]byte("q"))
	return stdin.Close()
}
