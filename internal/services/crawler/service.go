package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service runs crawl jobs. Each job gets its own run: a frontier queue, a
// worker pool, a rate limiter and a dedup cache, all torn down by a single
// finalizer. Counters live in memory while a run is active and are persisted
// exactly once at finalization; reads overlay the live counters on top of
// the stored record.
type Service struct {
	config     *common.Config
	jobs       interfaces.JobStorage
	results    interfaces.ResultStorage
	dedupStore interfaces.DedupStorage
	events     interfaces.EventService
	fetcher    *Fetcher
	extractor  *Extractor
	retry      *RetryPolicy
	logger     arbor.ILogger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*jobRun
	closed bool
}

// NewService creates the crawler service and fails any job left pending or
// running by a previous process, since their in-memory runs are gone.
func NewService(config *common.Config, storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) *Service {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Service{
		config:     config,
		jobs:       storage.JobStorage(),
		results:    storage.ResultStorage(),
		dedupStore: storage.DedupStorage(),
		events:     events,
		fetcher:    NewFetcher(&config.Crawler, logger),
		extractor:  NewExtractor(logger),
		retry:      NewRetryPolicy(),
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		runs:       make(map[string]*jobRun),
	}

	s.failOrphanedJobs()
	return s
}

// failOrphanedJobs marks jobs from a previous process as failed. Their
// queues and counters lived in that process, so they can never finish.
func (s *Service) failOrphanedJobs() {
	ctx := context.Background()

	orphans, err := s.jobs.ListActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Orphaned job sweep failed")
		return
	}

	active := []models.JobStatus{models.JobStatusPending, models.JobStatusRunning}
	for _, job := range orphans {
		if _, err := s.jobs.UpdateStatus(ctx, job.UserID, job.ID, active, models.JobStatusFailed, "interrupted by restart"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark orphaned job")
			continue
		}
		s.publish(job.UserID, job.ID, models.EventJobFailed, map[string]any{
			"job_id": job.ID,
			"status": string(models.JobStatusFailed),
			"error":  "interrupted by restart",
		})
		s.logger.Info().Str("job_id", job.ID).Msg("Marked orphaned job as failed")
	}
}

// StartJob validates the seed, persists a pending job, transitions it to
// running and launches the crawl. The seed is admitted unconditionally; scope
// rules apply only to discovered links.
func (s *Service) StartJob(ctx context.Context, userID, seedURL string, config models.CrawlConfig) (*models.Job, error) {
	policy, canonicalSeed, err := NewPolicy(seedURL, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err)
	}
	if !s.config.AllowTestURLs() && isTestHost(policy.seed.Hostname()) {
		return nil, fmt.Errorf("%w: seed host %q is not reachable from this deployment", interfaces.ErrInvalidInput, policy.seed.Hostname())
	}

	jobID := common.NewJobID()
	job := models.NewJob(userID, jobID, canonicalSeed, policy.Config())
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	job, err = s.jobs.UpdateStatus(ctx, userID, jobID, []models.JobStatus{models.JobStatusPending}, models.JobStatusRunning, "")
	if err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	runCtx, cancel := context.WithDeadline(s.baseCtx, time.Now().Add(s.config.Crawler.JobDeadline))
	run := &jobRun{
		job:             job,
		policy:          policy,
		queue:           newTaskQueue(),
		limiter:         rate.NewLimiter(rate.Every(job.Config.RateLimit()), 1),
		dedup:           NewDedup(userID, jobID, s.dedupStore, s.logger),
		ctx:             runCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		cancelRequested: make(chan struct{}),
		maxPagesHit:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, errors.New("crawler service is closed")
	}
	s.runs[job.Key] = run
	s.mu.Unlock()

	run.dedup.AddURLs(runCtx, []string{canonicalSeed})
	run.mu.Lock()
	run.counters.Discovered = 1
	run.counters.Queued = 1
	run.mu.Unlock()
	run.queue.Push(&PageTask{URL: canonicalSeed, Depth: 0, Attempt: 1})

	workers := job.Config.MaxConcurrentRequests
	if workers < 1 {
		workers = 1
	}
	if workers > models.MaxConcurrentRequestsLimit {
		workers = models.MaxConcurrentRequestsLimit
	}

	run.wg.Add(workers)
	for i := 0; i < workers; i++ {
		common.SafeGo(s.logger, "crawlWorker", func() {
			s.workerLoop(run)
		})
	}
	common.SafeGo(s.logger, "crawlSupervisor", func() {
		s.supervise(run)
	})

	s.logger.Info().
		Str("job_id", jobID).
		Str("seed", canonicalSeed).
		Int("workers", workers).
		Int("max_pages", job.Config.MaxPages).
		Int("max_depth", job.Config.MaxDepth).
		Msg("Crawl job started")

	return job, nil
}

// GetJob returns the stored job with live counters overlaid while its run is
// active.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	s.overlayLiveCounters(job)
	return job, nil
}

// ListJobs returns the user's jobs, most recent first, with live counters
// overlaid on active ones.
func (s *Service) ListJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error) {
	jobs, err := s.jobs.ListJobs(ctx, userID, &interfaces.JobListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		s.overlayLiveCounters(job)
	}
	return jobs, nil
}

// GetResults returns the job's page results sorted by canonical URL.
func (s *Service) GetResults(ctx context.Context, userID, jobID string) ([]*models.PageResult, error) {
	if _, err := s.jobs.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	return s.results.ListResults(ctx, userID, jobID)
}

// CancelJob requests cancellation of a running job. Idempotent: cancelling a
// terminal job is a no-op.
func (s *Service) CancelJob(ctx context.Context, userID, jobID string) error {
	job, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	s.mu.Lock()
	run, ok := s.runs[models.JobKey(userID, jobID)]
	s.mu.Unlock()

	if ok {
		run.requestCancel()
		s.logger.Info().Str("job_id", jobID).Msg("Cancellation requested")
		return nil
	}

	// No live run. The job record is active but its process is gone, so
	// transition storage directly.
	active := []models.JobStatus{models.JobStatusPending, models.JobStatusRunning}
	if _, err := s.jobs.UpdateStatus(ctx, userID, jobID, active, models.JobStatusCancelled, "cancelled by user"); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			return nil
		}
		return err
	}
	s.publish(userID, jobID, models.EventJobFailed, map[string]any{
		"job_id": jobID,
		"status": string(models.JobStatusCancelled),
		"error":  "cancelled by user",
	})
	return nil
}

// WaitForJob blocks until the job reaches a terminal status or the context
// ends, then returns the final record.
func (s *Service) WaitForJob(ctx context.Context, userID, jobID string) (*models.Job, error) {
	for {
		job, err := s.jobs.GetJob(ctx, userID, jobID)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}

		s.mu.Lock()
		run, ok := s.runs[models.JobKey(userID, jobID)]
		s.mu.Unlock()

		if ok {
			select {
			case <-run.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close cancels every active run and waits for each to finalize.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	runs := make([]*jobRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	s.baseCancel()

	for _, run := range runs {
		select {
		case <-run.done:
		case <-time.After(5 * time.Second):
			s.logger.Warn().Str("job_id", run.job.ID).Msg("Timed out waiting for job to finalize")
		}
	}

	s.logger.Info().Int("jobs", len(runs)).Msg("Crawler service closed")
	return nil
}

// overlayLiveCounters replaces stored counters with the run's live snapshot
// while the run is active. After finalization the stored counters are
// authoritative.
func (s *Service) overlayLiveCounters(job *models.Job) {
	s.mu.Lock()
	run, ok := s.runs[job.Key]
	s.mu.Unlock()

	if ok && !run.finalized.Load() {
		job.Counters = run.snapshot()
	}
}

// publish appends an event to the job's log and fans it out. Event failures
// are logged and never fail the crawl; the background context keeps terminal
// events working after the run context is cancelled.
func (s *Service) publish(userID, jobID string, eventType models.EventType, payload map[string]any) {
	payload["job_id"] = jobID
	if _, err := s.events.Publish(context.Background(), userID, jobID, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("event", string(eventType)).Msg("Event publish failed")
	}
}

// isTestHost reports whether the host only resolves to the local machine.
// Such seeds are rejected in production deployments.
func isTestHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}
