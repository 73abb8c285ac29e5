//go:build !windows

package util

import "io"

// StopFFmpegViaStdin is a no-op on unix, where FFmpeg is stopped with SIGINT.
func StopFFmpegViaStdin(stdin io.WriteCloser) error {
	return nil
}
