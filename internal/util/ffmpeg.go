package util

import (
	"fmt"
	"os/exec"
)

// ResolveFFmpegPath locates the ffmpeg binary used to run the relay.
// An explicit path must be executable; otherwise ffmpeg is looked up in PATH.
func ResolveFFmpegPath(customPath string) (string, error) {
	name := "ffmpeg"
	if customPath != "" {
		name = customPath
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found at %q: %w", name, err)
	}
	return path, nil
}
