package crawler

import (
	"errors"
	"testing"
	"time"
)

func TestShouldRetry(t *testing.T) {
	policy := NewRetryPolicy()

	transient := &FetchError{Kind: FetchErrHTTP5xx, StatusCode: 503}
	if !policy.ShouldRetry(1, transient) {
		t.Error("first 5xx failure should retry")
	}
	if !policy.ShouldRetry(2, transient) {
		t.Error("second 5xx failure should retry")
	}
	if policy.ShouldRetry(3, transient) {
		t.Error("failure on the final attempt should not retry")
	}

	if policy.ShouldRetry(1, &FetchError{Kind: FetchErrHTTP4xx, StatusCode: 404}) {
		t.Error("4xx should never retry")
	}
	if policy.ShouldRetry(1, &FetchError{Kind: FetchErrContentType}) {
		t.Error("wrong content type should never retry")
	}
	if policy.ShouldRetry(1, errors.New("not a fetch error")) {
		t.Error("unclassified errors should never retry")
	}
}

func TestBackoffGrowsExponentially(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 4, InitialBackoff: 100 * time.Millisecond, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := policy.Backoff(attempt); got != want[attempt-1] {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want[attempt-1])
		}
	}
}
