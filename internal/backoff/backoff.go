// Package backoff computes retry delays: exponential growth capped at a
// maximum, plus additive jitter so synchronized clients spread out.
package backoff

import (
	"math/rand"
	"time"
)

// maxJitter bounds the additive jitter regardless of the initial delay.
const maxJitter = time.Second

// ForAttempt returns the delay before retry number attempt (0-based):
// min(initial << attempt, max) plus jitter drawn uniformly from
// [0, min(1s, initial)).
func ForAttempt(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitter := initial
	if jitter > maxJitter {
		jitter = maxJitter
	}
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	return delay
}
