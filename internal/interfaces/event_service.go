package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// EventService manages the per-job event stream: durable log first, live
// fan-out second. Subscribers receive events over buffered channels; a
// subscriber that cannot keep up is dropped rather than allowed to block
// publishing, and can recover the missed suffix from the log.
type EventService interface {
	// Publish assigns the next event ID for the job, appends the event to
	// the durable log, then fans it out to live subscribers. The returned
	// event carries the assigned ID.
	Publish(ctx context.Context, userID, jobID string, eventType models.EventType, payload any) (*models.Event, error)

	// Subscribe registers a live subscriber for one job. The returned cancel
	// function must be called to release the subscription.
	Subscribe(userID, jobID string) (<-chan *models.Event, func())

	// SubscribeAll registers a live subscriber for every job's events.
	// Used by the WebSocket mirror.
	SubscribeAll() (<-chan *models.Event, func())

	// Replay returns the persisted events with ID > afterID in order.
	Replay(ctx context.Context, userID, jobID string, afterID int64) ([]*models.Event, error)

	// LastEventID returns the highest persisted event ID for a job.
	LastEventID(ctx context.Context, userID, jobID string) (int64, error)

	// Close drops all subscribers
	Close() error
}
