// Package backoff maps retry attempt counts to redelivery delays.
package backoff

import (
	"math"
	"time"
)

// DefaultBase is the exponential base. The delay before attempt n is
// base^n seconds, so successive retries always wait strictly longer.
const DefaultBase = 5

// Policy computes the delay before a retry attempt becomes eligible.
type Policy struct {
	base float64
}

// New returns a Policy with the given exponential base.
// Bases below 2 would break strict monotonicity growth expectations for
// small attempt counts, so they are clamped to 2.
func New(base int) Policy {
	if base < 2 {
		base = 2
	}
	return Policy{base: float64(base)}
}

// Default returns the policy with DefaultBase.
func Default() Policy {
	return New(DefaultBase)
}

// Delay returns the wait before attempt n (n >= 1) may be processed.
// Strictly monotonically increasing in n.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	secs := math.Pow(p.base, float64(attempt))
	return time.Duration(secs * float64(time.Second))
}
