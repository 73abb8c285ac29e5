// Package ffmpeg provides FFmpeg process management for the media relay.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// Process represents a running FFmpeg subprocess.
type Process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	output *TailBuffer

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
}

// StartProcess launches an FFmpeg subprocess and reaps it in the background.
// Stdout and stderr are captured into a bounded tail buffer.
func StartProcess(ffmpegPath string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	output := NewTailBuffer(DefaultTailBytes)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		cancel: cancel,
		stdin:  stdinPipe,
		output: output,
		done:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// wait reaps the process and records its exit status.
func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	p.cancel()
	close(p.done)
}

// Pid returns the operating system process ID.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error once the process has exited.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Alive reports whether the process is still running according to both the
// reaper and the process table.
func (p *Process) Alive() bool {
	if p.Exited() {
		return false
	}
	return util.ProcessAlive(p.Pid())
}

// Interrupt asks FFmpeg to finish the output and exit.
func (p *Process) Interrupt() error {
	if p.cmd.Process == nil {
		return nil
	}
	return errors.Join(
		util.GracefulSignal(p.cmd.Process),
		util.StopFFmpegViaStdin(p.stdin),
	)
}

// Terminate sends a terminate signal.
func (p *Process) Terminate() error {
	if p.cmd.Process == nil || p.Exited() {
		return nil
	}
	return util.TerminateSignal(p.cmd.Process)
}

// Kill forcibly ends the process.
func (p *Process) Kill() error {
	if p.cmd.Process == nil || p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Output returns the captured diagnostic output tail.
func (p *Process) Output() string {
	return p.output.String()
}

// Tail returns the last n lines of captured output.
func (p *Process) Tail(n int) string {
	return p.output.Lines(n)
}

// LastError returns the last non-empty line of captured output.
func (p *Process) LastError() string {
	return util.ExtractLastError(p.output.String())
}
