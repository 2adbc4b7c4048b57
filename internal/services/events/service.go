package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// subscriberBuffer is the channel capacity granted to each live subscriber.
// A subscriber whose buffer is full gets dropped and has to re-sync from the
// durable log via Last-Event-ID.
const subscriberBuffer = 64

type subscriber struct {
	ch chan *models.Event
}

// Service implements EventService: every published event is appended to the
// durable log before any live subscriber sees it, so the log is always a
// superset of what any stream delivered.
type Service struct {
	storage interfaces.EventStorage
	logger  arbor.ILogger

	mu       sync.Mutex
	nextID   map[string]int64 // job key -> next event ID to assign
	jobSubs  map[string]map[*subscriber]struct{}
	allSubs  map[*subscriber]struct{}
	closed   bool
}

// NewService creates the event service backed by the given durable log.
func NewService(storage interfaces.EventStorage, logger arbor.ILogger) interfaces.EventService {
	return &Service{
		storage: storage,
		logger:  logger,
		nextID:  make(map[string]int64),
		jobSubs: make(map[string]map[*subscriber]struct{}),
		allSubs: make(map[*subscriber]struct{}),
	}
}

// Publish assigns the next monotone event ID for the job, persists the event,
// then fans it out. ID assignment and the append happen under the service
// mutex so concurrent publishers cannot produce gaps or duplicates.
func (s *Service) Publish(ctx context.Context, userID, jobID string, eventType models.EventType, payload any) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("event service is closed")
	}

	jobKey := models.JobKey(userID, jobID)

	id, ok := s.nextID[jobKey]
	if !ok {
		// First publish for this job in this process: seed the counter from
		// the durable log so IDs continue where a previous run left off.
		lastID, err := s.storage.LastEventID(ctx, userID, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to seed event counter: %w", err)
		}
		id = lastID + 1
	}

	event, err := models.NewEvent(userID, jobID, id, eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build event: %w", err)
	}

	if err := s.storage.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}
	s.nextID[jobKey] = id + 1

	s.fanOutLocked(jobKey, event)

	s.logger.Debug().
		Str("job_id", jobID).
		Str("event_type", string(eventType)).
		Int64("event_id", id).
		Msg("Event published")

	return event, nil
}

// fanOutLocked delivers the event to job subscribers and firehose subscribers.
// Callers hold s.mu. Delivery never blocks: a full buffer drops the subscriber.
func (s *Service) fanOutLocked(jobKey string, event *models.Event) {
	for sub := range s.jobSubs[jobKey] {
		select {
		case sub.ch <- event:
		default:
			s.dropLocked(jobKey, sub)
		}
	}
	for sub := range s.allSubs {
		select {
		case sub.ch <- event:
		default:
			delete(s.allSubs, sub)
			close(sub.ch)
			s.logger.Warn().Msg("Slow firehose subscriber dropped")
		}
	}
}

func (s *Service) dropLocked(jobKey string, sub *subscriber) {
	subs := s.jobSubs[jobKey]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(s.jobSubs, jobKey)
	}
	close(sub.ch)
	s.logger.Warn().
		Str("job_key", jobKey).
		Msg("Slow subscriber dropped")
}

// Subscribe registers a live subscriber for one job's events. The cancel
// function is idempotent and safe to call after the subscriber was dropped.
func (s *Service) Subscribe(userID, jobID string) (<-chan *models.Event, func()) {
	jobKey := models.JobKey(userID, jobID)
	sub := &subscriber{ch: make(chan *models.Event, subscriberBuffer)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if s.jobSubs[jobKey] == nil {
		s.jobSubs[jobKey] = make(map[*subscriber]struct{})
	}
	s.jobSubs[jobKey][sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.jobSubs[jobKey]; ok {
			if _, live := subs[sub]; live {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(s.jobSubs, jobKey)
				}
				close(sub.ch)
			}
		}
	}
	return sub.ch, cancel
}

// SubscribeAll registers a firehose subscriber that receives every job's
// events. The WebSocket mirror uses this to watch all activity.
func (s *Service) SubscribeAll() (<-chan *models.Event, func()) {
	sub := &subscriber{ch: make(chan *models.Event, subscriberBuffer)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	s.allSubs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, live := s.allSubs[sub]; live {
			delete(s.allSubs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Replay returns the persisted events with ID greater than afterID, in order.
func (s *Service) Replay(ctx context.Context, userID, jobID string, afterID int64) ([]*models.Event, error) {
	return s.storage.ListEventsAfter(ctx, userID, jobID, afterID, 0)
}

// LastEventID returns the highest persisted event ID for a job, preferring
// the in-memory counter when the job has published in this process.
func (s *Service) LastEventID(ctx context.Context, userID, jobID string) (int64, error) {
	jobKey := models.JobKey(userID, jobID)

	s.mu.Lock()
	next, ok := s.nextID[jobKey]
	s.mu.Unlock()
	if ok {
		return next - 1, nil
	}
	return s.storage.LastEventID(ctx, userID, jobID)
}

// Close drops every subscriber and rejects further publishes.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for jobKey, subs := range s.jobSubs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(s.jobSubs, jobKey)
	}
	for sub := range s.allSubs {
		close(sub.ch)
		delete(s.allSubs, sub)
	}

	s.logger.Info().Msg("Event service closed")
	return nil
}
