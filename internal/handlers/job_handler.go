package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// defaultListLimit caps GET /jobs responses when the client sends no limit.
const defaultListLimit = 20

// JobHandler handles the job lifecycle endpoints: create, list, inspect,
// download and cancel.
type JobHandler struct {
	crawler  interfaces.CrawlerService
	exporter interfaces.ExportService
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewJobHandler creates a new job handler
func NewJobHandler(crawler interfaces.CrawlerService, exporter interfaces.ExportService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		crawler:  crawler,
		exporter: exporter,
		logger:   logger,
		validate: validator.New(),
	}
}

// createJobRequest is the POST /jobs body. Options overlay the defaults, so
// an omitted field keeps its default value.
type createJobRequest struct {
	URL     string        `json:"url" validate:"required"`
	Options *crawlOptions `json:"options"`
}

// crawlOptions mirrors models.CrawlConfig with pointer fields so absent and
// zero-valued options can be told apart during the overlay.
type crawlOptions struct {
	MaxPages              *int     `json:"max_pages"`
	MaxDepth              *int     `json:"max_depth"`
	QualityThreshold      *int     `json:"quality_threshold"`
	TimeoutMsPerRequest   *int     `json:"timeout_ms_per_request"`
	RateLimitMs           *int     `json:"rate_limit_ms"`
	MaxConcurrentRequests *int     `json:"max_concurrent_requests"`
	IncludeAnchors        *bool    `json:"include_anchors"`
	AllowedHosts          []string `json:"allowed_hosts"`
	ExcludePatterns       []string `json:"exclude_patterns"`
	RespectPathPrefix     *bool    `json:"respect_path_prefix"`
	FollowExternalLinks   *bool    `json:"follow_external_links"`
}

func (o *crawlOptions) apply(config *models.CrawlConfig) {
	if o == nil {
		return
	}
	if o.MaxPages != nil {
		config.MaxPages = *o.MaxPages
	}
	if o.MaxDepth != nil {
		config.MaxDepth = *o.MaxDepth
	}
	if o.QualityThreshold != nil {
		config.QualityThreshold = *o.QualityThreshold
	}
	if o.TimeoutMsPerRequest != nil {
		config.TimeoutMsPerRequest = *o.TimeoutMsPerRequest
	}
	if o.RateLimitMs != nil {
		config.RateLimitMs = *o.RateLimitMs
	}
	if o.MaxConcurrentRequests != nil {
		config.MaxConcurrentRequests = *o.MaxConcurrentRequests
	}
	if o.IncludeAnchors != nil {
		config.IncludeAnchors = *o.IncludeAnchors
	}
	if len(o.AllowedHosts) > 0 {
		config.AllowedHosts = o.AllowedHosts
	}
	if len(o.ExcludePatterns) > 0 {
		config.ExcludePatterns = o.ExcludePatterns
	}
	if o.RespectPathPrefix != nil {
		config.RespectPathPrefix = *o.RespectPathPrefix
	}
	if o.FollowExternalLinks != nil {
		config.FollowExternalLinks = *o.FollowExternalLinks
	}
}

// CreateJobHandler starts a new crawl job.
// POST /jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createJobRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "url is required")
		return
	}

	config := models.DefaultCrawlConfig()
	req.Options.apply(&config)
	if err := h.validate.Struct(&config); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid options: %v", err))
		return
	}

	userID := UserID(r)
	job, err := h.crawler.StartJob(r.Context(), userID, req.URL, config)
	if err != nil {
		h.logger.Warn().Err(err).Str("seed_url", req.URL).Msg("Failed to start crawl job")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("seed_url", job.SeedURL).
		Int("max_pages", job.Config.MaxPages).
		Msg("Crawl job created")

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"stream_url": fmt.Sprintf("/jobs/%s/stream", job.ID),
	})
}

// ListJobsHandler returns the caller's jobs, most recent first.
// GET /jobs?limit=20
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := LimitParam(r, defaultListLimit)
	jobs, err := h.crawler.ListJobs(r.Context(), UserID(r), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler returns one job with its config snapshot and live counters.
// GET /jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.crawler.GetJob(r.Context(), UserID(r), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// DownloadHandler serves the concatenated corpus of a completed job.
// GET /jobs/{id}/download?format=markdown|html|pdf
func (h *JobHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.crawler.GetJob(r.Context(), UserID(r), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if job.Status != models.JobStatusCompleted {
		WriteError(w, http.StatusConflict, fmt.Sprintf("job is %s; the corpus is available once it completes", job.Status))
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	var data []byte
	var contentType, ext string
	switch format {
	case "markdown":
		data = []byte(job.FinalMarkdown)
		contentType = "text/markdown; charset=utf-8"
		ext = "md"
	case "html":
		data, err = h.exporter.CorpusHTML(job)
		contentType = "text/html; charset=utf-8"
		ext = "html"
	case "pdf":
		data, err = h.exporter.CorpusPDF(job)
		contentType = "application/pdf"
		ext = "pdf"
	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q (expected markdown, html or pdf)", format))
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Str("format", format).Msg("Corpus export failed")
		WriteError(w, http.StatusInternalServerError, "failed to render corpus")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s.%s", job.ID, ext)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ResultsHandler returns the job's per-page results.
// GET /jobs/{id}/results?format=json|yaml|jsonl
func (h *JobHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	results, err := h.crawler.GetResults(r.Context(), UserID(r), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	var data []byte
	var contentType string
	switch format {
	case "json":
		data, err = h.exporter.ResultsJSON(results)
		contentType = "application/json"
	case "yaml":
		data, err = h.exporter.ResultsYAML(results)
		contentType = "application/x-yaml"
	case "jsonl":
		data, err = h.exporter.ResultsJSONL(results)
		contentType = "application/x-ndjson"
	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q (expected json, yaml or jsonl)", format))
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Str("format", format).Msg("Results export failed")
		WriteError(w, http.StatusInternalServerError, "failed to render results")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteJobHandler requests cancellation of a running job. Cancelling a job
// that already reached a terminal status is a no-op.
// DELETE /jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	userID := UserID(r)
	job, err := h.crawler.GetJob(r.Context(), userID, jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if job.IsTerminal() {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": job.ID,
			"status": string(job.Status),
		})
		return
	}

	if err := h.crawler.CancelJob(r.Context(), userID, jobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")

	status := string(models.JobStatusCancelled)
	if current, err := h.crawler.GetJob(r.Context(), userID, jobID); err == nil {
		status = string(current.Status)
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"status": status,
	})
}
