package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// heartbeatInterval is the gap between SSE comment frames on an idle stream.
// Comments keep proxies from timing out the connection without advancing the
// client's Last-Event-ID cursor.
const heartbeatInterval = 10 * time.Second

// StreamHandler serves the per-job Server-Sent Events stream with resumable
// delivery: a client reconnecting with Last-Event-ID receives the exact
// suffix of the durable event log, then live events as they happen.
type StreamHandler struct {
	crawler interfaces.CrawlerService
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewStreamHandler creates a new SSE stream handler
func NewStreamHandler(crawler interfaces.CrawlerService, events interfaces.EventService, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		crawler: crawler,
		events:  events,
		logger:  logger,
	}
}

// StreamJobEvents streams a job's event log over SSE.
// GET /jobs/{id}/stream
//
// Resume is honored from the Last-Event-ID header or the last_event_id query
// parameter; the header wins when both are present. Streaming a job that
// already finished replays the remaining suffix and closes after the terminal
// event. A resume point at or past the end of a finished job's log is
// rejected with 422 since such a stream could never deliver anything.
func (h *StreamHandler) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	afterID, err := parseResumeID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "last_event_id must be a non-negative integer")
		return
	}

	userID := UserID(r)
	job, err := h.crawler.GetJob(r.Context(), userID, jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	lastID, err := h.events.LastEventID(r.Context(), userID, jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read event log position")
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if job.IsTerminal() && (lastID == 0 || afterID >= lastID) {
		WriteError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("job is %s and no events remain after ID %d", job.Status, afterID))
		return
	}
	if afterID > lastID {
		// The client claims a future position; resume from the log's end.
		afterID = lastID
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	writer := &sseWriter{w: w, flusher: flusher}
	writer.synthetic(models.EventStreamConnected, map[string]interface{}{
		"job_id":        jobID,
		"status":        string(job.Status),
		"last_event_id": afterID,
	})

	h.logger.Debug().
		Str("job_id", jobID).
		Int64("resume_after", afterID).
		Msg("SSE stream connected")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	sent := afterID
	lastResync := int64(-1)
	for {
		// Subscribe before replaying so no event can fall between the log
		// read and the live feed. Overlap is handled by the ID cursor.
		liveCh, cancelSub := h.events.Subscribe(userID, jobID)

		done, err := h.replayAfter(r.Context(), writer, userID, jobID, &sent)
		if done || err != nil {
			cancelSub()
			return
		}

		closed := false
		for !closed {
			select {
			case <-r.Context().Done():
				cancelSub()
				return
			case ev, ok := <-liveCh:
				if !ok {
					closed = true
					break
				}
				if ev.EventID <= sent {
					continue
				}
				writer.event(ev)
				sent = ev.EventID
				if ev.Type.IsTerminal() {
					cancelSub()
					return
				}
			case <-heartbeat.C:
				writer.comment("heartbeat")
			}
		}
		cancelSub()

		// The live channel closes when this subscriber fell behind. Re-sync
		// from the durable log; bail out if the previous re-sync made no
		// progress, which means the feed itself is gone.
		if sent == lastResync {
			return
		}
		lastResync = sent
	}
}

// replayAfter streams persisted events with ID greater than *sent and
// advances the cursor. Returns true once a terminal event has been sent.
func (h *StreamHandler) replayAfter(ctx context.Context, writer *sseWriter, userID, jobID string, sent *int64) (bool, error) {
	events, err := h.events.Replay(ctx, userID, jobID, *sent)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Event replay failed")
		return false, err
	}
	for _, ev := range events {
		writer.event(ev)
		*sent = ev.EventID
		if ev.Type.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

// parseResumeID reads the resume position from the Last-Event-ID header or
// the last_event_id query parameter. Absent means start from the beginning.
func parseResumeID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("last_event_id"))
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, fmt.Errorf("negative event ID %d", id)
	}
	return id, nil
}

// sseWriter frames events for one SSE connection and flushes after every
// frame so events reach the client immediately.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// event writes a logged event as an SSE frame. The id line carries the
// event's log position so clients can resume from it.
func (s *sseWriter) event(ev *models.Event) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	fmt.Fprintf(s.w, "event: %s\n", ev.Type)
	fmt.Fprintf(s.w, "data: %s\n", payload)
	fmt.Fprintf(s.w, "id: %d\n\n", ev.EventID)
	s.flusher.Flush()
}

// synthetic writes a connection-scoped frame with no id line. Synthetic
// frames never enter the durable log, so they must not move the client's
// resume cursor.
func (s *sseWriter) synthetic(eventType models.EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\n", eventType)
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

// comment writes an SSE comment frame, invisible to EventSource clients.
func (s *sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}
