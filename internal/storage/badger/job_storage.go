package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Per-job locks serialize guarded status transitions. BadgerHold has no
	// compare-and-set primitive, so the precondition check and the write
	// must hold the same lock.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *JobStorage) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if mu, ok := s.locks[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.locks[key] = mu
	return mu
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.UserID == "" || job.ID == "" {
		return fmt.Errorf("job user ID and ID are required")
	}
	if job.Key == "" {
		job.Key = models.JobKey(job.UserID, job.ID)
	}

	if err := s.db.Store().Upsert(job.Key, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, userID, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(models.JobKey(userID, jobID), &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, userID string, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("UserID").Eq(userID).Index("UserID")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// UpdateStatus performs a guarded status transition. The current status must
// be one of from; otherwise ErrConflict. Timestamps and the error message are
// stamped in the same write as the status so readers never observe a half
// applied transition.
func (s *JobStorage) UpdateStatus(ctx context.Context, userID, jobID string, from []models.JobStatus, to models.JobStatus, errMsg string) (*models.Job, error) {
	key := models.JobKey(userID, jobID)
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(key, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	allowed := len(from) == 0
	for _, f := range from {
		if job.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, interfaces.ErrConflict)
	}

	now := time.Now().UTC()
	job.Status = to
	if errMsg != "" {
		job.Error = errMsg
	}
	if to == models.JobStatusRunning && job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	if to.IsTerminal() {
		job.CompletedAt = now
	}

	if err := s.db.Store().Upsert(key, &job); err != nil {
		return nil, fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(to)).
		Msg("Job status updated")

	return &job, nil
}

func (s *JobStorage) ListActive(ctx context.Context) ([]*models.Job, error) {
	active := []interface{}{
		models.JobStatusPending,
		models.JobStatusRunning,
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").In(active...).Index("Status")); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	terminal := []interface{}{
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusTimeout,
		models.JobStatusCancelled,
	}

	var jobs []models.Job
	query := badgerhold.Where("Status").In(terminal...).And("CompletedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list terminal jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, userID, jobID string) error {
	key := models.JobKey(userID, jobID)
	if err := s.db.Store().Delete(key, &models.Job{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	s.locksMu.Lock()
	delete(s.locks, key)
	s.locksMu.Unlock()

	return nil
}
