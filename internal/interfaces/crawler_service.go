package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// CrawlerService runs crawl jobs: one seed URL in, a Markdown corpus out.
// Job identity is always the (userID, jobID) pair; a user never sees another
// user's jobs.
type CrawlerService interface {
	// StartJob validates the seed and config, persists a pending job and
	// launches the crawl. Returns immediately with the new job.
	StartJob(ctx context.Context, userID, seedURL string, config models.CrawlConfig) (*models.Job, error)

	// GetJob returns the current job record, ErrNotFound if absent
	GetJob(ctx context.Context, userID, jobID string) (*models.Job, error)

	// ListJobs returns the user's jobs, most recent first
	ListJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error)

	// GetResults returns the job's page results sorted by URL
	GetResults(ctx context.Context, userID, jobID string) ([]*models.PageResult, error)

	// CancelJob requests cancellation. Idempotent: cancelling a terminal or
	// already-cancelled job is a no-op.
	CancelJob(ctx context.Context, userID, jobID string) error

	// WaitForJob blocks until the job reaches a terminal status or the
	// context is cancelled, and returns the final job record.
	WaitForJob(ctx context.Context, userID, jobID string) (*models.Job, error)

	// Close cancels all running jobs and releases resources
	Close() error
}
