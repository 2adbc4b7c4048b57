package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tooling connects from arbitrary origins
	},
}

// WSMessage is the envelope for every message pushed to WebSocket clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is the wire shape of one log line pushed to WebSocket clients.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// wsEvent mirrors a job event onto the WebSocket feed.
type wsEvent struct {
	JobID   string          `json:"job_id"`
	EventID int64           `json:"event_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsClient is one connected WebSocket peer. The mutex serializes writes;
// gorilla connections do not allow concurrent writers.
type wsClient struct {
	mu    sync.Mutex
	jobID string // optional filter: only this job's events are mirrored
}

// WebSocketHandler mirrors the event firehose and server logs onto a
// WebSocket feed for local tooling and dashboards. Unlike the SSE stream the
// mirror is lossy: events dropped under load are not replayed.
type WebSocketHandler struct {
	logger           arbor.ILogger
	events           interfaces.EventService
	clients          map[*websocket.Conn]*wsClient
	mu               sync.RWMutex
	throttlers       map[models.EventType]*rate.Limiter
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and starts mirroring the event
// firehose. Throttle intervals from config apply per event type; an event
// type without a configured interval is never throttled.
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		events:           events,
		clients:          make(map[*websocket.Conn]*wsClient),
		throttlers:       make(map[models.EventType]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Invalid throttle interval, event type not throttled")
				continue
			}
			h.throttlers[models.EventType(eventType)] = rate.NewLimiter(rate.Every(duration), 1)
		}
	}

	if events != nil {
		go h.pumpEvents()
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Int("throttled_types", len(h.throttlers)).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket upgrades the connection and registers the client. An
// optional job_id query parameter restricts the mirror to one job's events.
// GET /ws?job_id=job_abc
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{jobID: r.URL.Query().Get("job_id")}

	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendToClient(conn, client, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"job_id":             client.jobID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Clients never send payloads; the read loop only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// pumpEvents forwards the event firehose to connected clients. A mirror that
// falls behind is resubscribed and simply misses the dropped events; a
// subscription that closes without delivering anything means the event
// service itself has shut down.
func (h *WebSocketHandler) pumpEvents() {
	for {
		ch, cancel := h.events.SubscribeAll()
		received := false
		for ev := range ch {
			received = true
			h.mirrorEvent(ev)
		}
		cancel()
		if !received {
			return
		}
		h.logger.Warn().Msg("WebSocket event mirror fell behind, resubscribed")
	}
}

// mirrorEvent broadcasts one job event, subject to per-type throttling and
// per-client job filters.
func (h *WebSocketHandler) mirrorEvent(ev *models.Event) {
	if limiter, ok := h.throttlers[ev.Type]; ok && !limiter.Allow() {
		return
	}

	msg := WSMessage{
		Type: string(ev.Type),
		Payload: wsEvent{
			JobID:   ev.JobID,
			EventID: ev.EventID,
			Payload: ev.Payload,
		},
	}
	h.broadcast(msg, ev.JobID)
}

// BroadcastLog pushes one log line to every connected client. Log lines are
// never filtered by job; they describe the server, not a single crawl.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	h.broadcast(WSMessage{Type: "log", Payload: entry}, "")
}

// broadcast sends a message to all clients whose filter admits jobID. An
// empty jobID bypasses client filters.
func (h *WebSocketHandler) broadcast(msg WSMessage, jobID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	clients := make([]*wsClient, 0, len(h.clients))
	for conn, client := range h.clients {
		if jobID != "" && client.jobID != "" && client.jobID != jobID {
			continue
		}
		conns = append(conns, conn)
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		client := clients[i]
		client.mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send WebSocket message to client")
		}
	}
}

// sendToClient writes one message to a single client.
func (h *WebSocketHandler) sendToClient(conn *websocket.Conn, client *wsClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	client.mu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	client.mu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send WebSocket message to client")
	}
}
