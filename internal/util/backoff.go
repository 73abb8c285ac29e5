package util

import "time"

// Backoff computes exponentially growing delays capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the given retry; retry 1 waits Initial.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := b.Initial
	for range retry - 1 {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
