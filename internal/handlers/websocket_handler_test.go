package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// dialWS connects to the handler under test and consumes the initial
// "connected" message so later reads see only broadcast traffic.
func dialWS(t *testing.T, serverURL, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	msg := readWS(t, conn, 2*time.Second)
	if msg.Type != "connected" {
		t.Fatalf("Expected connected message, got %q", msg.Type)
	}
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn, timeout time.Duration) *WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return &msg
}

// expectNoWS asserts that nothing arrives on the connection within the window.
func expectNoWS(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("Expected no message, got type %q", msg.Type)
	}
}

func TestWebSocketConnectMessage(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?job_id=job_7"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	msg := readWS(t, conn, 2*time.Second)
	if msg.Type != "connected" {
		t.Fatalf("Expected connected message, got %q", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if id, _ := payload["server_instance_id"].(string); id == "" {
		t.Error("Expected a server instance ID")
	}
	if payload["job_id"] != "job_7" {
		t.Errorf("Expected job_id 'job_7', got %v", payload["job_id"])
	}
}

func TestWebSocketBroadcastLog(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dialWS(t, server.URL, "")
	defer conn.Close()

	handler.BroadcastLog(LogEntry{Timestamp: "10:30:00", Level: "info", Message: "Crawl started"})

	msg := readWS(t, conn, 2*time.Second)
	if msg.Type != "log" {
		t.Fatalf("Expected log message, got %q", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if payload["level"] != "info" {
		t.Errorf("Expected level 'info', got %v", payload["level"])
	}
	if payload["message"] != "Crawl started" {
		t.Errorf("Expected message 'Crawl started', got %v", payload["message"])
	}
	if payload["timestamp"] != "10:30:00" {
		t.Errorf("Expected timestamp '10:30:00', got %v", payload["timestamp"])
	}
}

func TestWebSocketJobFilter(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	filtered := dialWS(t, server.URL, "?job_id=job_a")
	defer filtered.Close()
	unfiltered := dialWS(t, server.URL, "")
	defer unfiltered.Close()

	handler.mirrorEvent(streamEvent("job_b", 1, models.EventURLCrawled, `{"url":"https://x.test/"}`))

	// The unfiltered client sees every job's events
	msg := readWS(t, unfiltered, 2*time.Second)
	if msg.Type != string(models.EventURLCrawled) {
		t.Errorf("Expected url_crawled, got %q", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if payload["job_id"] != "job_b" {
		t.Errorf("Expected job_id 'job_b', got %v", payload["job_id"])
	}
	if int64(payload["event_id"].(float64)) != 1 {
		t.Errorf("Expected event_id 1, got %v", payload["event_id"])
	}

	// The client filtered to job_a must not see job_b's events
	expectNoWS(t, filtered, 300*time.Millisecond)

	// Log broadcasts ignore the job filter; they describe the server
	handler.BroadcastLog(LogEntry{Timestamp: "10:30:00", Level: "warn", Message: "Disk almost full"})
	msg = readWS(t, filtered, 2*time.Second)
	if msg.Type != "log" {
		t.Errorf("Expected log message on the filtered client, got %q", msg.Type)
	}
}

func TestWebSocketEventMirror(t *testing.T) {
	firehose := make(chan *models.Event)
	var subscribeCalls int32
	events := &mockEventService{
		subscribeAllFunc: func() (<-chan *models.Event, func()) {
			if atomic.AddInt32(&subscribeCalls, 1) == 1 {
				return firehose, func() {}
			}
			closed := make(chan *models.Event)
			close(closed)
			return closed, func() {}
		},
	}

	handler := NewWebSocketHandler(events, arbor.NewLogger(), &common.WebSocketConfig{})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dialWS(t, server.URL, "")
	defer conn.Close()

	firehose <- streamEvent("job_9", 4, models.EventURLCrawled, `{"url":"https://x.test/a"}`)

	msg := readWS(t, conn, 2*time.Second)
	if msg.Type != string(models.EventURLCrawled) {
		t.Fatalf("Expected url_crawled, got %q", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if payload["job_id"] != "job_9" {
		t.Errorf("Expected job_id 'job_9', got %v", payload["job_id"])
	}

	// A closed firehose after delivering events means this mirror fell
	// behind; the pump resubscribes once, then stops when the service is gone
	close(firehose)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&subscribeCalls) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&subscribeCalls); got != 2 {
		t.Errorf("Expected 2 subscribe calls, got %d", got)
	}
}

func TestWebSocketThrottling(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{
		ThrottleIntervals: map[string]string{"progress": "1h"},
	})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dialWS(t, server.URL, "")
	defer conn.Close()

	handler.mirrorEvent(streamEvent("job_1", 1, models.EventProgress, `{"processed":1}`))
	handler.mirrorEvent(streamEvent("job_1", 2, models.EventProgress, `{"processed":2}`))

	msg := readWS(t, conn, 2*time.Second)
	if msg.Type != string(models.EventProgress) {
		t.Fatalf("Expected progress, got %q", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if int64(payload["event_id"].(float64)) != 1 {
		t.Errorf("Expected first progress event, got %v", payload["event_id"])
	}

	// The second progress event within the interval is dropped
	expectNoWS(t, conn, 300*time.Millisecond)

	// Unthrottled event types pass through immediately
	handler.mirrorEvent(streamEvent("job_1", 3, models.EventURLCrawled, `{"url":"https://x.test/"}`))
	msg = readWS(t, conn, 2*time.Second)
	if msg.Type != string(models.EventURLCrawled) {
		t.Errorf("Expected url_crawled, got %q", msg.Type)
	}
}

func TestWebSocketInvalidThrottleInterval(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{
		ThrottleIntervals: map[string]string{"progress": "not-a-duration", "time_update": "250ms"},
	})

	if len(handler.throttlers) != 1 {
		t.Errorf("Expected 1 throttler, got %d", len(handler.throttlers))
	}
	if _, ok := handler.throttlers[models.EventTimeUpdate]; !ok {
		t.Error("Expected time_update throttler to survive the invalid entry")
	}
}

func TestWebSocketClientCleanup(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dialWS(t, server.URL, "")

	handler.mu.RLock()
	connected := len(handler.clients)
	handler.mu.RUnlock()
	if connected != 1 {
		t.Fatalf("Expected 1 client, got %d", connected)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handler.mu.RLock()
		remaining := len(handler.clients)
		handler.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected the client to be unregistered after disconnect")
}
