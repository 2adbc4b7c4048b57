package crawler

import (
	"errors"
	"time"
)

// RetryPolicy bounds fetch attempts per URL with exponential backoff.
// Attempts count from 1; a task that fails its MaxAttempts-th attempt is
// recorded as failed.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

// NewRetryPolicy returns the default policy: 3 attempts total, backoff
// starting at 1s and doubling.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2.0,
	}
}

// ShouldRetry reports whether a failed attempt should be re-enqueued.
// Only transient fetch errors qualify.
func (p *RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Retryable()
}

// Backoff returns the delay before re-enqueueing after the given attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return delay
}
