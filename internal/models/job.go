package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// sticky: once set, no later transition may overwrite them.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	}
	return false
}

// Default crawl limits. Applied when the job options omit a field.
const (
	DefaultMaxPages              = 50
	DefaultMaxDepth              = 2
	DefaultQualityThreshold      = 20
	DefaultTimeoutMsPerRequest   = 30000
	DefaultRateLimitMs           = 1000
	DefaultMaxConcurrentRequests = 3
	MaxConcurrentRequestsLimit   = 10
)

// CrawlConfig defines per-job crawl behavior. The config is snapshot onto the
// job at creation time so a job is self-contained and unaffected by later
// changes. JSON tags match the "options" object of the create-job request.
type CrawlConfig struct {
	MaxPages              int      `json:"max_pages" validate:"min=1"`                 // Maximum pages to store results for
	MaxDepth              int      `json:"max_depth" validate:"min=0"`                 // Link distance from the seed (seed = 0)
	QualityThreshold      int      `json:"quality_threshold" validate:"min=0,max=100"` // Minimum content quality, maps to 10x bytes of Markdown
	TimeoutMsPerRequest   int      `json:"timeout_ms_per_request" validate:"min=1"`    // Per-fetch deadline in milliseconds
	RateLimitMs           int      `json:"rate_limit_ms" validate:"min=0"`             // Minimum gap between task starts in milliseconds
	MaxConcurrentRequests int      `json:"max_concurrent_requests" validate:"min=1,max=10"`
	IncludeAnchors        bool     `json:"include_anchors"`      // Keep URL fragments during normalization
	AllowedHosts          []string `json:"allowed_hosts"`        // Hosts eligible for crawling (defaults to the seed host)
	ExcludePatterns       []string `json:"exclude_patterns"`     // Regex patterns; matching URLs are never crawled
	RespectPathPrefix     bool     `json:"respect_path_prefix"`  // Restrict crawl to the seed URL's path subtree
	FollowExternalLinks   bool     `json:"follow_external_links"`
}

// DefaultCrawlConfig returns a config populated with the default limits.
// Request decoding overlays the client's options on top of this value so
// omitted fields keep their defaults.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxPages:              DefaultMaxPages,
		MaxDepth:              DefaultMaxDepth,
		QualityThreshold:      DefaultQualityThreshold,
		TimeoutMsPerRequest:   DefaultTimeoutMsPerRequest,
		RateLimitMs:           DefaultRateLimitMs,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		RespectPathPrefix:     true,
	}
}

// ApplySeedDefaults fills config values that depend on the seed URL.
// AllowedHosts defaults to the seed's host when the client provided none.
func (c *CrawlConfig) ApplySeedDefaults(seed *url.URL) {
	if len(c.AllowedHosts) == 0 && seed != nil {
		c.AllowedHosts = []string{strings.ToLower(seed.Hostname())}
	}
}

// Validate checks option values beyond struct-tag range checks.
// Exclude patterns must be valid regular expressions.
func (c *CrawlConfig) Validate() error {
	for _, pattern := range c.ExcludePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// RequestTimeout returns the per-fetch deadline as a duration.
func (c *CrawlConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutMsPerRequest) * time.Millisecond
}

// RateLimit returns the minimum gap between task starts as a duration.
func (c *CrawlConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

// CrawlCounters tracks job progress. Counter updates are atomic with the
// state change they describe, so a progress snapshot is never ahead of the
// stored results.
//
// Invariant: Processed <= Queued <= Discovered.
type CrawlCounters struct {
	Discovered int `json:"discovered"` // Seed plus unique in-scope links found
	Queued     int `json:"queued"`     // Tasks admitted to the work queue
	Processed  int `json:"processed"`  // Dequeued tasks finished without terminal failure
	Skipped    int `json:"skipped"`    // Quality-gate, content-type and duplicate skips
	Failed     int `json:"failed"`     // Terminal fetch or parse failures
}

// Job represents one crawl: a seed URL, a config snapshot, live counters and
// the final Markdown corpus. Jobs are namespaced by user; every storage key
// and query carries the (user_id, job_id) pair.
type Job struct {
	// Key is the composite storage key "user_id:job_id"
	Key      string        `json:"-" badgerhold:"key"`
	UserID   string        `json:"user_id" badgerhold:"index"`
	ID       string        `json:"id"`
	SeedURL  string        `json:"seed_url"`
	Config   CrawlConfig   `json:"config"`
	Status   JobStatus     `json:"status" badgerhold:"index"`
	Counters CrawlCounters `json:"counters"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Error contains a concise description of why the job failed.
	// Only populated for terminal failures; displayed to API clients.
	Error string `json:"error,omitempty"`

	// FinalMarkdown is the concatenated corpus, written exactly once during
	// finalization. Excluded from API summaries; served by the download endpoint.
	FinalMarkdown string `json:"-"`
}

// JobKey builds the composite storage key for a (user, job) pair.
func JobKey(userID, jobID string) string {
	return userID + ":" + jobID
}

// NewJob creates a pending job with the given identity and config snapshot.
func NewJob(userID, jobID, seedURL string, config CrawlConfig) *Job {
	return &Job{
		Key:       JobKey(userID, jobID),
		UserID:    userID,
		ID:        jobID,
		SeedURL:   seedURL,
		Config:    config,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// IsTerminal reports whether the job has reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Duration returns the job's wall-clock runtime, zero while pending.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := j.CompletedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(j.StartedAt)
}
