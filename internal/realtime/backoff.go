package realtime

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base doubled per attempt, capped at
// Max, with equal jitter so half the delay is fixed and half random.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter func(limit time.Duration) time.Duration
}

// Delay returns the wait before retry number attempt, counting from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Max
	if attempt < 62 {
		if step := b.Base << attempt; step > 0 && step < b.Max {
			d = step
		}
	}
	half := d / 2
	jitter := b.Jitter
	if jitter == nil {
		jitter = randomJitter
	}
	return d - half + jitter(half)
}

// randomJitter returns a uniform duration in [0, limit].
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
