package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// DefaultUserID is the identity assumed when a request carries no X-User-ID
// header. Single-user deployments never set the header.
const DefaultUserID = "default"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps service-layer sentinel errors onto HTTP statuses.
// Unknown errors become a generic 500 so storage internals never reach clients.
func WriteServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return WriteError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, interfaces.ErrInvalidInput):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrConflict):
		return WriteError(w, http.StatusConflict, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// UserID returns the requesting identity from the X-User-ID header.
func UserID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return DefaultUserID
}

// JobIDFromPath extracts the job ID from paths of the form /jobs/{id} or
// /jobs/{id}/{action}. Returns "" when the path has no ID segment.
func JobIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "jobs" {
		return ""
	}
	return parts[1]
}

// LimitParam parses the "limit" query parameter, falling back to def when the
// parameter is absent or not a positive integer.
func LimitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return def
	}
	return limit
}
