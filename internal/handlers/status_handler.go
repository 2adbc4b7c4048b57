package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// StatusHandler serves the health and version endpoints.
type StatusHandler struct {
	config    *common.Config
	logger    arbor.ILogger
	startedAt time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(config *common.Config, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		config:    config,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// HealthzHandler reports process liveness.
// GET /healthz
func (h *StatusHandler) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"environment": h.config.Environment,
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// VersionHandler reports build information.
// GET /version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
