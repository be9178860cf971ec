package imap

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: Base × Multiplier^attempt, capped at Max.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Base) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 1)) {
		return b.Max
	}
	return time.Duration(delay)
}
