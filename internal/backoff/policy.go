// Package backoff provides exponential backoff delays and context-aware retry.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// Max caps a single delay (0 = no cap).
	Max time.Duration
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the delay.
	Jitter float64
}

// DefaultPolicy doubles a 100ms base delay on every retry with no jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:   100 * time.Millisecond,
		Factor: 2,
	}
}

// Delay returns the wait after the given failed attempt (0-indexed):
// base * factor^attempt, plus jitter, clamped to Max.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Jitter <= 0 {
		return p.DelayWithRand(attempt, 0)
	}
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-provided random value in [0.0, 1.0).
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	exp := math.Max(float64(attempt), 0)

	base := float64(p.Base) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}
