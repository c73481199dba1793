// Package backoff provides retry delay strategies. All strategies are safe
// for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry n.
	Delay(n int) time.Duration
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max). Attempts are 1-indexed.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay by Factor per retry.
// Ceiling = min(Initial * Factor^retryCount, Max), retryCount 0-based.
//
// With Jitter set, Delay scales the ceiling by a uniform value in
// [0.5, 1.0] and truncates to whole seconds, so concurrently failing jobs
// spread out instead of retrying in lockstep.
type Exponential struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an exponential backoff strategy without jitter.
func NewExponential(initial time.Duration, factor float64, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Factor: factor, Max: maxDelay}
}

// Ceiling returns the non-jittered delay for retryCount.
func (e *Exponential) Ceiling(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	factor := e.Factor
	if factor <= 1 {
		factor = 2
	}
	d := float64(e.Initial) * math.Pow(factor, float64(retryCount))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Delay returns the ceiling for retryCount, jittered if enabled.
func (e *Exponential) Delay(retryCount int) time.Duration {
	d := e.Ceiling(retryCount)
	if !e.Jitter {
		return d
	}
	scaled := float64(d) * (0.5 + rand.Float64()*0.5) //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(scaled).Truncate(time.Second)
}
