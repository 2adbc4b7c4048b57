package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// formatJobSummary formats a single crawl job as markdown
func formatJobSummary(job *models.Job) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Crawl Job %s\n\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Seed URL:** %s\n", job.SeedURL))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
	if job.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", job.Error))
	}
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", job.CreatedAt.Format(time.RFC3339)))
	if d := job.Duration(); d > 0 {
		sb.WriteString(fmt.Sprintf("**Duration:** %s\n", d.Round(time.Millisecond)))
	}
	sb.WriteString("\n### Pages\n\n")
	sb.WriteString(fmt.Sprintf("- Discovered: %d\n", job.Counters.Discovered))
	sb.WriteString(fmt.Sprintf("- Queued: %d\n", job.Counters.Queued))
	sb.WriteString(fmt.Sprintf("- Processed: %d\n", job.Counters.Processed))
	sb.WriteString(fmt.Sprintf("- Skipped: %d\n", job.Counters.Skipped))
	sb.WriteString(fmt.Sprintf("- Failed: %d\n", job.Counters.Failed))

	if job.Status == models.JobStatusCompleted {
		sb.WriteString(fmt.Sprintf("\n**Corpus:** %d bytes of Markdown. Call get_corpus with job_id %s to retrieve it.\n", len(job.FinalMarkdown), job.ID))
	}

	return sb.String()
}

// formatJobList formats a job list as markdown
func formatJobList(jobs []*models.Job) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Crawl Jobs (%d)\n\n", len(jobs)))

	if len(jobs) == 0 {
		sb.WriteString("No jobs found. Use crawl_docs to start one.\n")
		return sb.String()
	}

	for i, job := range jobs {
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, job.ID, job.Status))
		sb.WriteString(fmt.Sprintf("   Seed: %s\n", job.SeedURL))
		sb.WriteString(fmt.Sprintf("   Pages: %d processed, %d failed\n", job.Counters.Processed, job.Counters.Failed))
		sb.WriteString(fmt.Sprintf("   Created: %s\n", job.CreatedAt.Format(time.RFC3339)))
	}

	return sb.String()
}
