package models

import (
	"strings"
	"time"
	"unicode"
)

// PageStatus represents the outcome of processing one URL
type PageStatus string

const (
	PageStatusOK        PageStatus = "ok"        // Extracted and stored
	PageStatusFailed    PageStatus = "failed"    // Terminal fetch or parse failure
	PageStatusSkipped   PageStatus = "skipped"   // Quality gate or content-type rejection
	PageStatusDuplicate PageStatus = "duplicate" // Content hash already seen in this job
)

// PageResult is the immutable record of one processed URL. Results are keyed
// by the canonical URL within a job, which makes writes idempotent when a
// retried task is delivered more than once.
type PageResult struct {
	// Key is the composite storage key "user_id:job_id:url_key"
	Key    string `json:"-" yaml:"-" badgerhold:"key"`
	JobKey string `json:"-" yaml:"-" badgerhold:"index"` // "user_id:job_id" for per-job queries
	UserID string `json:"user_id" yaml:"user_id"`
	JobID  string `json:"job_id" yaml:"job_id"`

	URL         string     `json:"url" yaml:"url"` // Canonical form
	Title       string     `json:"title,omitempty" yaml:"title,omitempty"`
	Markdown    string     `json:"markdown,omitempty" yaml:"markdown,omitempty"`
	WordCount   int        `json:"word_count" yaml:"word_count"`
	ContentHash uint64     `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Status      PageStatus `json:"status" yaml:"status"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	Depth       int        `json:"depth" yaml:"depth"`
	ParentURL   string     `json:"parent_url,omitempty" yaml:"parent_url,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at" yaml:"fetched_at"`
}

// ResultKey builds the composite storage key for a page result.
func ResultKey(userID, jobID, urlKey string) string {
	return userID + ":" + jobID + ":" + urlKey
}

// CountWords returns the number of whitespace-separated words in s.
func CountWords(s string) int {
	return len(strings.FieldsFunc(s, unicode.IsSpace))
}
