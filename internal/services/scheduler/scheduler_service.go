package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// sweepTimeout bounds one retention sweep. Sweeps run against local Badger
// storage, so a minute is generous.
const sweepTimeout = time.Minute

// Service implements SchedulerService: a cron-driven retention sweep that
// purges terminal jobs past their TTL and clears dedup sets once their grace
// period expires.
type Service struct {
	config  *common.Config
	jobs    interfaces.JobStorage
	results interfaces.ResultStorage
	events  interfaces.EventStorage
	dedup   interfaces.DedupStorage
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates the retention scheduler. Start must be called to begin
// the schedule.
func NewService(config *common.Config, storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		jobs:    storage.JobStorage(),
		results: storage.ResultStorage(),
		events:  storage.EventStorage(),
		dedup:   storage.DedupStorage(),
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start begins the retention schedule. No-op when retention is disabled.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Retention.Enabled {
		s.logger.Info().Msg("Retention sweep disabled")
		return nil
	}

	schedule := s.config.Retention.Schedule
	if schedule == "" {
		schedule = "@every 1h"
	}
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	if _, err := s.cron.AddFunc(schedule, s.runScheduledSweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Str("job_ttl", s.config.JobTTLDuration().String()).
		Str("dedup_grace", s.config.DedupGraceDuration().String()).
		Msg("Retention scheduler started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention scheduler stopped")
}

func (s *Service) runScheduledSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if err := s.RunRetentionSweep(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Retention sweep failed")
	}
}

// RunRetentionSweep executes one sweep immediately: jobs older than the TTL
// are purged with their results, events and dedup sets; younger terminal
// jobs past the dedup grace keep their records but lose the dedup sets.
func (s *Service) RunRetentionSweep(ctx context.Context) error {
	started := time.Now()

	expired, err := s.jobs.ListTerminalBefore(ctx, started.Add(-s.config.JobTTLDuration()))
	if err != nil {
		return fmt.Errorf("failed to list expired jobs: %w", err)
	}

	purged := 0
	for _, job := range expired {
		if err := s.purgeJob(ctx, job.UserID, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to purge expired job")
			continue
		}
		purged++
	}

	graced, err := s.jobs.ListTerminalBefore(ctx, started.Add(-s.config.DedupGraceDuration()))
	if err != nil {
		return fmt.Errorf("failed to list jobs past dedup grace: %w", err)
	}

	cleared := 0
	for _, job := range graced {
		if err := s.dedup.Clear(ctx, job.UserID, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to clear dedup set")
			continue
		}
		cleared++
	}

	s.logger.Info().
		Int("purged", purged).
		Int("dedup_cleared", cleared).
		Dur("duration", time.Since(started)).
		Msg("Retention sweep completed")
	return nil
}

// purgeJob deletes everything a job left behind. The job record goes last so
// an interrupted purge is retried on the next sweep.
func (s *Service) purgeJob(ctx context.Context, userID, jobID string) error {
	if err := s.dedup.Clear(ctx, userID, jobID); err != nil {
		return fmt.Errorf("clear dedup: %w", err)
	}
	if err := s.events.DeleteEvents(ctx, userID, jobID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	if err := s.results.DeleteResults(ctx, userID, jobID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	if err := s.jobs.DeleteJob(ctx, userID, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}
