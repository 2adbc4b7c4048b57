package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/colligo/internal/common"
)

// defaultExcludePatterns suppresses log lines that would feed back into the
// WebSocket channel they are broadcast on.
var defaultExcludePatterns = []string{
	"WebSocket client connected",
	"WebSocket client disconnected",
	"Failed to send WebSocket message",
	"HTTP request",
	"HTTP response",
	"Event published",
	"SSE stream connected",
}

// LogStreamer consumes log batches from arbor's context channel and pushes
// matching lines to WebSocket clients. Filtering follows the websocket config
// section: min_level drops quieter lines, exclude_patterns drops lines by
// substring match.
type LogStreamer struct {
	handler         *WebSocketHandler
	channel         chan []arbormodels.LogEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewLogStreamer creates a log streamer for the given WebSocket handler.
// Wire it up with logger.SetChannel("context", streamer.GetChannel()).
func NewLogStreamer(handler *WebSocketHandler, wsConfig *common.WebSocketConfig) *LogStreamer {
	minLevel := levels.InfoLevel
	excludePatterns := defaultExcludePatterns

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LogStreamer{
		handler:         handler,
		channel:         make(chan []arbormodels.LogEvent, 10),
		ctx:             ctx,
		cancel:          cancel,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}
}

// GetChannel returns the channel for arbor to send log batches to
func (s *LogStreamer) GetChannel() chan []arbormodels.LogEvent {
	return s.channel
}

// Start launches the consumer goroutine
func (s *LogStreamer) Start() {
	s.wg.Add(1)
	go s.consume()
}

// Stop shuts down the consumer. The channel itself stays open since the
// logger may still hold a reference to it.
func (s *LogStreamer) Stop() {
	s.cancel()
	s.wg.Wait()
}

// consume processes log batches until the streamer is stopped.
func (s *LogStreamer) consume() {
	defer s.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			s.handler.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log streamer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-s.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				s.broadcastEvent(event)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// broadcastEvent pushes one log event to clients if it passes the filters.
func (s *LogStreamer) broadcastEvent(event arbormodels.LogEvent) {
	level := plogToArborLevel(event.Level)
	if level < s.minLevel {
		return
	}
	for _, pattern := range s.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return
		}
	}

	s.handler.BroadcastLog(LogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     mapLevel(level),
		Message:   event.Message,
	})
}

// plogToArborLevel converts phuslu/log.Level to arbor levels.LogLevel
func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel converts a string log level to arbor levels.LogLevel
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel maps arbor log levels to wire strings
func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
