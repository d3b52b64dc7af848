package transport

import (
	"math"
	"time"
)

// BackoffConfig configures exponential retry backoff.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoffConfig matches the pipeline's fixed retry discipline.
var DefaultBackoffConfig = BackoffConfig{
	InitialDelay: 1 * time.Second,
	MaxDelay:     32 * time.Second,
	Multiplier:   2.0,
}

// Delay returns the delay for the given attempt number (0-indexed):
// min(initialDelay * multiplier^attempt, maxDelay).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
