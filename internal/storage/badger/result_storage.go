package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ResultStorage implements the ResultStorage interface for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ResultStorage) SaveResult(ctx context.Context, result *models.PageResult) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}
	if result.Key == "" {
		return fmt.Errorf("result key is required")
	}
	if result.JobKey == "" {
		result.JobKey = models.JobKey(result.UserID, result.JobID)
	}

	// Upsert keyed by canonical URL: redelivered tasks overwrite their own
	// earlier write instead of duplicating
	if err := s.db.Store().Upsert(result.Key, result); err != nil {
		return fmt.Errorf("failed to save result for %s: %w", result.URL, err)
	}
	return nil
}

func (s *ResultStorage) ListResults(ctx context.Context, userID, jobID string) ([]*models.PageResult, error) {
	jobKey := models.JobKey(userID, jobID)

	var results []models.PageResult
	query := badgerhold.Where("JobKey").Eq(jobKey).Index("JobKey").SortBy("URL")
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list results for job %s: %w", jobID, err)
	}

	out := make([]*models.PageResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

func (s *ResultStorage) CountResults(ctx context.Context, userID, jobID string) (int, error) {
	jobKey := models.JobKey(userID, jobID)

	count, err := s.db.Store().Count(&models.PageResult{}, badgerhold.Where("JobKey").Eq(jobKey).Index("JobKey"))
	if err != nil {
		return 0, fmt.Errorf("failed to count results for job %s: %w", jobID, err)
	}
	return int(count), nil
}

func (s *ResultStorage) DeleteResults(ctx context.Context, userID, jobID string) error {
	jobKey := models.JobKey(userID, jobID)

	err := s.db.Store().DeleteMatching(&models.PageResult{}, badgerhold.Where("JobKey").Eq(jobKey).Index("JobKey"))
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete results for job %s: %w", jobID, err)
	}
	return nil
}
