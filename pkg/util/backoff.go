package util

import (
	"math/rand"
	"time"
)

// Backoff implements the exponential backoff policy used by the
// downloader and save/load worker when retrying transient failures: the
// interval starts at a base duration and multiplies by a growth factor
// on each consecutive non-success, resetting on a successful response.
// Jitter is applied uniformly within ±50% of the computed interval.
type Backoff struct {
	base    time.Duration
	growth  float64
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff with the given base interval, growth
// factor and ceiling.
func NewBackoff(base time.Duration, growth float64, max time.Duration) *Backoff {
	return &Backoff{
		base:    base,
		growth:  growth,
		max:     max,
		current: base,
	}
}

// Next returns the jittered interval to wait before the next retry, and
// advances the internal state for the following call.
func (b *Backoff) Next() time.Duration {
	interval := b.current
	b.current = time.Duration(float64(b.current) * b.growth)
	if b.current > b.max {
		b.current = b.max
	}
	jitterFraction := 0.5 - rand.Float64()
	jittered := time.Duration(float64(interval) * (1 + jitterFraction))
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// Reset restores the backoff to its base interval. Callers should invoke
// this after a successful request.
func (b *Backoff) Reset() {
	b.current = b.base
}
