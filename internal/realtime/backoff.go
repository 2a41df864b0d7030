package realtime

import (
	"math"
	"time"
)

// Backoff controls reconnect delays: Base * Multiplier^(attempt-1), capped
// at Max, for at most MaxAttempts consecutive failures.
type Backoff struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff: 3s base, doubling, 30s cap, 5 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        3 * time.Second,
		Multiplier:  2.0,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Allow reports whether another attempt may be scheduled after `done`
// attempts have already been made.
func (b Backoff) Allow(done int) bool {
	return done < b.MaxAttempts
}

// Delay returns the wait before the given attempt (1-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := b.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(b.Base) * math.Pow(m, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
