package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a crawl progress event
type EventType string

const (
	// EventStreamConnected is synthesized per SSE connection and never persisted
	EventStreamConnected  EventType = "stream_connected"
	EventURLStarted       EventType = "url_started"
	EventURLCrawled       EventType = "url_crawled"
	EventURLFailed        EventType = "url_failed"
	EventURLsDiscovered   EventType = "urls_discovered"
	EventSentToProcessing EventType = "sent_to_processing"
	EventProgress         EventType = "progress"
	EventTimeUpdate       EventType = "time_update"
	EventJobCompleted     EventType = "job_completed"
	EventJobFailed        EventType = "job_failed"
	EventJobTimeout       EventType = "job_timeout"
	// EventHeartbeat never appears in the durable log; heartbeats are
	// SSE comment frames emitted by the stream handler
	EventHeartbeat EventType = "heartbeat"
)

// IsTerminal reports whether this event type ends a job's stream.
// A cancelled job emits job_failed with a "cancelled" status payload.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventJobCompleted, EventJobFailed, EventJobTimeout:
		return true
	}
	return false
}

// Event is one entry in a job's durable, append-only event log. EventID is
// strictly monotone per job starting at 1 with no gaps, which lets clients
// resume a stream from any last-seen ID and receive the exact suffix.
type Event struct {
	// Key is the composite storage key "user_id:job_id:<padded event id>"
	Key      string          `json:"-" badgerhold:"key"`
	JobKeyID string          `json:"-" badgerhold:"index"` // "user_id:job_id" for per-job queries
	UserID   string          `json:"-"`
	JobID    string          `json:"job_id"`
	EventID  int64           `json:"event_id"`
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}

// EventKey builds the composite storage key for an event. The ID is zero
// padded so Badger's lexicographic key order matches event order.
func EventKey(userID, jobID string, eventID int64) string {
	return fmt.Sprintf("%s:%s:%012d", userID, jobID, eventID)
}

// NewEvent builds an event with a marshaled payload. The payload must be a
// JSON-marshalable value; maps of primitives are typical.
func NewEvent(userID, jobID string, eventID int64, eventType EventType, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		raw = data
	}
	return &Event{
		Key:      EventKey(userID, jobID, eventID),
		JobKeyID: JobKey(userID, jobID),
		UserID:   userID,
		JobID:    jobID,
		EventID:  eventID,
		Type:     eventType,
		Payload:  raw,
		SentAt:   time.Now().UTC(),
	}, nil
}
