package wsfeed

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential from Min, capped at Max,
// with up to half of each delay randomized.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoff is used when no backoff is configured.
var DefaultBackoff = Backoff{Min: 250 * time.Millisecond, Max: 30 * time.Second}

// Delay returns the wait before reconnect attempt n (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Max
	if attempt < 32 {
		if shifted := b.Min << attempt; shifted > 0 && shifted < b.Max {
			d = shifted
		}
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}
