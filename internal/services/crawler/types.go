package crawler

import (
	"fmt"
	"time"
)

// PageTask is one unit of crawl work: a canonical URL with its position in
// the discovery tree and the attempt count for retry bookkeeping. Tasks live
// only in the queue; the durable record of a URL is its PageResult.
type PageTask struct {
	URL       string // Canonical form
	Depth     int
	ParentURL string
	Attempt   int // 1-based
}

// NextAttempt returns a copy of the task with the attempt counter advanced.
func (t *PageTask) NextAttempt() *PageTask {
	next := *t
	next.Attempt++
	return &next
}

// FetchResult holds a successfully fetched HTML page.
type FetchResult struct {
	URL         string // Requested canonical URL, the page's identity
	FinalURL    string // URL after redirects, used as the base for link resolution
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// FetchErrorKind classifies fetch failures. The kind decides retry behavior
// and the status recorded on the page result.
type FetchErrorKind string

const (
	FetchErrNetwork     FetchErrorKind = "network"
	FetchErrTimeout     FetchErrorKind = "timeout"
	FetchErrHTTP4xx     FetchErrorKind = "http_4xx"
	FetchErrHTTP5xx     FetchErrorKind = "http_5xx"
	FetchErrContentType FetchErrorKind = "wrong_content_type"
	FetchErrTooLarge    FetchErrorKind = "too_large"
)

// FetchError wraps a fetch failure with its classification.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient. Client errors, oversized
// bodies and wrong content types never resolve by retrying.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchErrNetwork, FetchErrTimeout, FetchErrHTTP5xx:
		return true
	}
	return false
}
