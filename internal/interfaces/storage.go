package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// JobListOptions controls job listing queries
type JobListOptions struct {
	Status models.JobStatus // Filter by status, empty for all
	Limit  int
	Offset int
}

// JobStorage - interface for crawl job persistence. All operations are
// namespaced by user: a job is only visible to the user that created it.
type JobStorage interface {
	// SaveJob upserts a job record by its composite (user, job) key
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob loads a job, ErrNotFound if absent
	GetJob(ctx context.Context, userID, jobID string) (*models.Job, error)

	// ListJobs returns the user's jobs, most recent first
	ListJobs(ctx context.Context, userID string, opts *JobListOptions) ([]*models.Job, error)

	// UpdateStatus transitions job status only when the current status is in
	// from. Terminal stamping (CompletedAt, Error) happens here so status and
	// timestamps change together. Returns ErrConflict when the precondition
	// fails, which makes the caller a losing finalizer.
	UpdateStatus(ctx context.Context, userID, jobID string, from []models.JobStatus, to models.JobStatus, errMsg string) (*models.Job, error)

	// ListTerminalBefore returns terminal jobs (all users) that completed
	// before the cutoff. Used by the retention sweeper.
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// ListActive returns all pending and running jobs across users. Used at
	// startup to fail jobs orphaned by a previous process.
	ListActive(ctx context.Context) ([]*models.Job, error)

	// DeleteJob removes the job record
	DeleteJob(ctx context.Context, userID, jobID string) error
}

// ResultStorage - interface for page result persistence. Results are
// append-only from the orchestrator's point of view; re-saving the same URL
// is an idempotent overwrite with identical content.
type ResultStorage interface {
	// SaveResult upserts a page result keyed by canonical URL within the job
	SaveResult(ctx context.Context, result *models.PageResult) error

	// ListResults returns all results for a job sorted lexicographically by URL
	ListResults(ctx context.Context, userID, jobID string) ([]*models.PageResult, error)

	// CountResults returns the number of stored results for a job
	CountResults(ctx context.Context, userID, jobID string) (int, error)

	// DeleteResults removes all results for a job
	DeleteResults(ctx context.Context, userID, jobID string) error
}

// EventStorage - interface for the durable, append-only event log. The log
// is the source of truth for stream replay: event IDs are strictly monotone
// per job starting at 1 with no gaps.
type EventStorage interface {
	// AppendEvent stores one event. Appending the same (job, event_id) twice
	// is an idempotent overwrite.
	AppendEvent(ctx context.Context, event *models.Event) error

	// ListEventsAfter returns up to limit events with EventID > afterID in
	// ascending ID order. limit <= 0 means no limit.
	ListEventsAfter(ctx context.Context, userID, jobID string, afterID int64, limit int) ([]*models.Event, error)

	// LastEventID returns the highest event ID for a job, 0 when the log is empty
	LastEventID(ctx context.Context, userID, jobID string) (int64, error)

	// DeleteEvents removes the whole log for a job
	DeleteEvents(ctx context.Context, userID, jobID string) error
}

// DedupStorage - interface for per-job seen-URL and content-hash sets.
// This is the slow path backing the in-memory dedup cache; it survives
// process restarts and is shared across workers.
type DedupStorage interface {
	// AddURL records a canonical URL key; returns true when it was not seen
	// before. The check and insert are atomic.
	AddURL(ctx context.Context, userID, jobID, urlKey string) (bool, error)

	// HasHash reports whether a content hash was already recorded for the job
	HasHash(ctx context.Context, userID, jobID string, hash uint64) (bool, error)

	// AddHash records a content hash for the job
	AddHash(ctx context.Context, userID, jobID string, hash uint64) error

	// Clear removes both sets for a job
	Clear(ctx context.Context, userID, jobID string) error
}

// StorageManager provides access to all storage implementations
type StorageManager interface {
	JobStorage() JobStorage
	ResultStorage() ResultStorage
	EventStorage() EventStorage
	DedupStorage() DedupStorage
	DB() interface{}
	Close() error
}
