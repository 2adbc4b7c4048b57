package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// MCP runs locally over stdio for a single operator, so every job belongs
// to the default user.
const defaultUserID = "default"

// handleCrawlDocs implements the crawl_docs tool
func handleCrawlDocs(crawlerService interfaces.CrawlerService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse url parameter (required)
		seedURL, err := request.RequireString("url")
		if err != nil || seedURL == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: url parameter is required"),
				},
			}, nil
		}

		// Overlay optional limits on the defaults
		config := models.DefaultCrawlConfig()
		if maxPages := request.GetInt("max_pages", 0); maxPages > 0 {
			config.MaxPages = maxPages
		}
		if maxDepth := request.GetInt("max_depth", -1); maxDepth >= 0 {
			config.MaxDepth = maxDepth
		}
		if patterns := request.GetStringSlice("exclude_patterns", nil); len(patterns) > 0 {
			config.ExcludePatterns = patterns
		}

		job, err := crawlerService.StartJob(ctx, defaultUserID, seedURL, config)
		if err != nil {
			logger.Error().Err(err).Str("seed_url", seedURL).Msg("StartJob failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Failed to start crawl: %v", err)),
				},
			}, nil
		}

		logger.Info().Str("job_id", job.ID).Str("seed_url", seedURL).Msg("Crawl started via MCP")

		// Block until the crawl finishes; the client's context bounds the wait
		final, err := crawlerService.WaitForJob(ctx, defaultUserID, job.ID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("WaitForJob failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Crawl %s did not finish: %v (use get_job_status to check on it)", job.ID, err)),
				},
			}, nil
		}

		markdown := formatJobSummary(final)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleGetJobStatus implements the get_job_status tool
func handleGetJobStatus(crawlerService interfaces.CrawlerService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse job_id parameter (required)
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		job, err := crawlerService.GetJob(ctx, defaultUserID, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("GetJob failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Job not found: %v", err)),
				},
			}, nil
		}

		markdown := formatJobSummary(job)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleGetCorpus implements the get_corpus tool
func handleGetCorpus(crawlerService interfaces.CrawlerService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse job_id parameter (required)
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		job, err := crawlerService.GetJob(ctx, defaultUserID, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("GetJob failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Job not found: %v", err)),
				},
			}, nil
		}

		if job.Status != models.JobStatusCompleted {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Job %s is %s; the corpus is available once it completes", job.ID, job.Status)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(job.FinalMarkdown),
			},
		}, nil
	}
}

// handleListJobs implements the list_jobs tool
func handleListJobs(crawlerService interfaces.CrawlerService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse limit (default: 20, max: 100)
		limit := request.GetInt("limit", 20)
		if limit > 100 {
			limit = 100
		}

		jobs, err := crawlerService.ListJobs(ctx, defaultUserID, limit)
		if err != nil {
			logger.Error().Err(err).Msg("ListJobs failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Failed to list jobs: %v", err)),
				},
			}, nil
		}

		markdown := formatJobList(jobs)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}
