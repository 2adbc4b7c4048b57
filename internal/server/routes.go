package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event mirror
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Job lifecycle
	mux.HandleFunc("/jobs", s.handleJobsCollection) // GET (list), POST (create)
	mux.HandleFunc("/jobs/", s.handleJobRoutes)     // /{id} and subresources

	// System
	mux.HandleFunc("/healthz", s.app.StatusHandler.HealthzHandler)
	mux.HandleFunc("/version", s.app.StatusHandler.VersionHandler)

	return mux
}

// handleJobsCollection routes the /jobs collection endpoint
func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.JobHandler.ListJobsHandler, s.app.JobHandler.CreateJobHandler)
}

// handleJobRoutes routes /jobs/{id} and its subresources:
//
//	GET    /jobs/{id}          job record
//	DELETE /jobs/{id}          cancel
//	GET    /jobs/{id}/stream   SSE event stream
//	GET    /jobs/{id}/download corpus download
//	GET    /jobs/{id}/results  page results
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 2:
		RouteResourceItem(w, r, s.app.JobHandler.GetJobHandler, nil, s.app.JobHandler.DeleteJobHandler)
	case len(parts) == 3 && parts[2] == "stream":
		s.app.StreamHandler.StreamJobEvents(w, r)
	case len(parts) == 3 && parts[2] == "download":
		s.app.JobHandler.DownloadHandler(w, r)
	case len(parts) == 3 && parts[2] == "results":
		s.app.JobHandler.ResultsHandler(w, r)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
