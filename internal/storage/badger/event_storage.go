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

// EventStorage implements the EventStorage interface for Badger. The event
// log is the source of truth for stream replay; live delivery is layered on
// top by the event service.
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EventStorage) AppendEvent(ctx context.Context, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID < 1 {
		return fmt.Errorf("event ID must be >= 1, got %d", event.EventID)
	}
	if event.Key == "" {
		event.Key = models.EventKey(event.UserID, event.JobID, event.EventID)
	}
	if event.JobKeyID == "" {
		event.JobKeyID = models.JobKey(event.UserID, event.JobID)
	}

	if err := s.db.Store().Upsert(event.Key, event); err != nil {
		return fmt.Errorf("failed to append event %d: %w", event.EventID, err)
	}
	return nil
}

func (s *EventStorage) ListEventsAfter(ctx context.Context, userID, jobID string, afterID int64, limit int) ([]*models.Event, error) {
	jobKey := models.JobKey(userID, jobID)

	query := badgerhold.Where("JobKeyID").Eq(jobKey).Index("JobKeyID").
		And("EventID").Gt(afterID).
		SortBy("EventID")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.Event
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list events for job %s: %w", jobID, err)
	}

	out := make([]*models.Event, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	return out, nil
}

func (s *EventStorage) LastEventID(ctx context.Context, userID, jobID string) (int64, error) {
	jobKey := models.JobKey(userID, jobID)

	var events []models.Event
	query := badgerhold.Where("JobKeyID").Eq(jobKey).Index("JobKeyID").
		SortBy("EventID").Reverse().Limit(1)
	if err := s.db.Store().Find(&events, query); err != nil {
		return 0, fmt.Errorf("failed to read last event for job %s: %w", jobID, err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].EventID, nil
}

func (s *EventStorage) DeleteEvents(ctx context.Context, userID, jobID string) error {
	jobKey := models.JobKey(userID, jobID)

	err := s.db.Store().DeleteMatching(&models.Event{}, badgerhold.Where("JobKeyID").Eq(jobKey).Index("JobKeyID"))
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete events for job %s: %w", jobID, err)
	}
	return nil
}
