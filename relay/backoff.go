package relay

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long a watcher waits before reopening a failed stream.
type Retryer interface {
	// NextDelay returns the wait before retry number attempt (0 based) and
	// whether to retry at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// Backoff is an exponential backoff with optional jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxRetries bounds consecutive failures, 0 retries forever.
	MaxRetries int
	// Jitter is the maximum random deviation as a fraction of the delay.
	Jitter float64
}

// DefaultBackoff retries forever starting at one second, capped at 30s.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func (b *Backoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxRetries > 0 && attempt >= b.MaxRetries {
		return 0, false
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		//nolint:gosec // jitter only
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(b.Initial)
		}
	}
	return time.Duration(delay), true
}
