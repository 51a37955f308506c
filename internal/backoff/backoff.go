// Package backoff holds the delay calculation strategies used by the retry
// executor. Strategies are stateless; all parameters arrive per call.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (0-based).
type Strategy interface {
	Delay(attempt int, initial, cap time.Duration, multiplier, jitter float64) time.Duration
}

// Exponential is the default strategy: min(initial * multiplier^attempt, cap)
// plus optional uniform jitter.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(attempt int, initial, cap time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(initial) * Pow(multiplier, attempt))
	if delay < 0 || delay > cap {
		delay = cap
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > cap {
			delay = cap
		} else {
			delay += extra
		}
	}
	return delay
}

// Decorrelated implements decorrelated jitter per the AWS architecture blog:
// random_between(base, min(cap, base * 3^attempt)). Smoother tail latencies
// than plain exponential jitter under contention.
type Decorrelated struct{}

// Delay implements Strategy. The jitter parameter is ignored; randomness is
// inherent to the formula.
func (Decorrelated) Delay(attempt int, initial, cap time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * Pow(3.0, attempt)
	capF := float64(cap)
	if upper > capF || upper < 0 {
		upper = capF
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > cap {
		delay = cap
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow computes base^exponent by repeated multiplication, avoiding math.Pow
// edge cases for the small integer exponents used here.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
