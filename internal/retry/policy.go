// Package retry decides whether and when a failed download is re-admitted.
package retry

import (
	"time"
)

// Settings is the slice of configuration the policy reads.
type Settings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	AutoRetry   bool
}

// Decision is the outcome of evaluating a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Strategy computes the delay before a retry. attempt is 1 for the first
// retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Linear grows the delay by Initial per attempt, capped at Max when Max is set.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial × attempt, never negative.
func (l *Linear) Delay(attempt int) time.Duration {
	if l.Initial <= 0 || attempt <= 0 {
		return 0
	}
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// LinearPolicy spaces retries by BaseDelay × attempts. The backoff is linear on
// purpose; do not switch it to exponential.
type LinearPolicy struct{}

// NewLinearPolicy builds the default policy.
func NewLinearPolicy() *LinearPolicy {
	return &LinearPolicy{}
}

// Decide evaluates a job that has just failed. attempts is the count after the
// failure was recorded (1 after the first failure).
func (LinearPolicy) Decide(attempts int, s Settings) Decision {
	if !s.AutoRetry || attempts >= s.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: NewLinear(s.BaseDelay, 0).Delay(attempts)}
}
