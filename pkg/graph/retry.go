package graph

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Strategy string

const (
	// Exponential waits base * 2^(attempt-1) between retries.
	Exponential Strategy = "exponential"

	// Linear waits base * attempt between retries.
	Linear Strategy = "linear"
)

// RetryPolicy bounds the throttling retry loop. Only throttling responses
// are retried; every other failure propagates immediately.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Strategy   Strategy
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		Base:       2 * time.Second,
		Strategy:   Exponential,
	}
}

// Delay returns the wait before retry attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Strategy == Linear {
		return p.Base * time.Duration(attempt)
	}
	return p.Base * time.Duration(1<<(attempt-1))
}

// throttleBackOff adapts RetryPolicy to the backoff engine. A Retry-After
// hint from the server takes precedence over the computed delay.
type throttleBackOff struct {
	policy  RetryPolicy
	attempt int
	hint    time.Duration
}

func (b *throttleBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt > b.policy.MaxRetries {
		return backoff.Stop
	}
	if b.hint > 0 {
		d := b.hint
		b.hint = 0
		return d
	}
	return b.policy.Delay(b.attempt)
}

func (b *throttleBackOff) Reset() {
	b.attempt = 0
	b.hint = 0
}
