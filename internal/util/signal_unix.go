//go:build !windows

package util

import (
	"errors"
	"os"
	"syscall"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks FFmpeg to finish writing and exit.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}

// TerminateSignal asks a process to terminate.
func TerminateSignal(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// ProcessAlive reports whether the process table still holds pid.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	// EPERM means the process exists but belongs to someone else.
	return err == nil || errors.Is(err, syscall.EPERM)
}
