package ffmpeg

import (
	"strings"
	"sync"
)

// DefaultTailBytes is the amount of diagnostic output kept per process.
const DefaultTailBytes = 64 * 1024

// TailBuffer is an io.Writer that keeps only the most recent bytes written.
// It is safe for concurrent use.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTailBuffer returns a TailBuffer holding at most maxBytes.
func NewTailBuffer(maxBytes int) *TailBuffer {
	return &TailBuffer{max: maxBytes}
}

// Write implements io.Writer.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.max {
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		return n, nil
	}
	if overflow := len(t.buf) + n - t.max; overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

// String returns the buffered output.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Lines returns the last n non-empty lines.
func (t *TailBuffer) Lines(n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(t.String(), "\n"), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append(kept, lines[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
