package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
	"gopkg.in/yaml.v3"
)

func newTestService() *Service {
	return NewService(arbor.NewLogger())
}

func exportJob(markdown string) *models.Job {
	job := models.NewJob("default", "job_export", "https://docs.example.com/", models.DefaultCrawlConfig())
	job.FinalMarkdown = markdown
	return job
}

func sampleResults() []*models.PageResult {
	fetched := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []*models.PageResult{
		{
			Key:       models.ResultKey("default", "job_export", "aaaa"),
			JobKey:    "default:job_export",
			UserID:    "default",
			JobID:     "job_export",
			URL:       "https://docs.example.com/",
			Title:     "Home",
			Markdown:  "# Home\n\nWelcome.",
			WordCount: 2,
			Status:    models.PageStatusOK,
			Depth:     0,
			FetchedAt: fetched,
		},
		{
			Key:       models.ResultKey("default", "job_export", "bbbb"),
			JobKey:    "default:job_export",
			UserID:    "default",
			JobID:     "job_export",
			URL:       "https://docs.example.com/guide",
			Status:    models.PageStatusFailed,
			Error:     "http_5xx (status 503)",
			Depth:     1,
			ParentURL: "https://docs.example.com/",
			FetchedAt: fetched,
		},
	}
}

func TestCorpusHTML(t *testing.T) {
	svc := newTestService()
	job := exportJob("# Guide\n\nIntro text.\n\n| Name | Type |\n| --- | --- |\n| id | string |\n\n```go\nfunc main() {}\n```")

	data, err := svc.CorpusHTML(job)
	require.NoError(t, err)

	page := string(data)
	assert.Contains(t, page, "<!DOCTYPE html>")
	assert.Contains(t, page, "<title>https://docs.example.com/</title>")
	assert.Contains(t, page, "<h1>Guide</h1>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "func main()")
}

func TestCorpusHTMLEscapesRawMarkup(t *testing.T) {
	svc := newTestService()
	job := exportJob("Use `<script>` tags carefully.\n\nLiteral <script>alert(1)</script> text.")

	data, err := svc.CorpusHTML(job)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "<script>alert(1)</script>")
}

func TestCorpusHTMLEmptyCorpus(t *testing.T) {
	svc := newTestService()

	data, err := svc.CorpusHTML(exportJob(""))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<!DOCTYPE html>")
}

func TestCorpusPDF(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		name     string
		markdown string
	}{
		{
			name:     "basic structure",
			markdown: "# Title\n\nSome paragraph text.\n\n- Item 1\n- Item 2\n\n1. First\n2. Second",
		},
		{
			name:     "empty corpus",
			markdown: "",
		},
		{
			name: "table and code",
			markdown: "# API\n\n| ID | Name | Role |\n|----|------|------|\n| 1 | Alice | Admin |\n| 2 | Bob | User |\n\n" +
				"```go\nfunc main() {}\n```",
		},
		{
			name:     "inline styling",
			markdown: "Normal **Bold** *Italic* `code span` text.",
		},
		{
			name:     "section separators",
			markdown: "# One\n\nFirst page.\n\n---\n\n# Two\n\nSecond page.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := svc.CorpusPDF(exportJob(tt.markdown))
			require.NoError(t, err)
			require.NotEmpty(t, data)
			assert.Equal(t, "%PDF", string(data[:4]))
		})
	}
}

func TestCorpusPDFSubstantialContent(t *testing.T) {
	svc := newTestService()
	markdown := "# Corpus\n\n" + strings.Repeat("A reasonably long paragraph of documentation prose. ", 40)

	data, err := svc.CorpusPDF(exportJob(markdown))
	require.NoError(t, err)
	assert.Greater(t, len(data), 500)
}

func TestResultsJSON(t *testing.T) {
	svc := newTestService()

	data, err := svc.ResultsJSON(sampleResults())
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "https://docs.example.com/", decoded[0]["url"])
	assert.Equal(t, "ok", decoded[0]["status"])
	assert.Equal(t, "http_5xx (status 503)", decoded[1]["error"])

	// Storage keys stay internal.
	assert.NotContains(t, string(data), "job_export:")
}

func TestResultsJSONEmpty(t *testing.T) {
	svc := newTestService()

	data, err := svc.ResultsJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestResultsJSONL(t *testing.T) {
	svc := newTestService()

	data, err := svc.ResultsJSONL(sampleResults())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), "line %d", i)
	}

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "Home", first["title"])
}

func TestResultsJSONLEmpty(t *testing.T) {
	svc := newTestService()

	data, err := svc.ResultsJSONL(nil)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestResultsYAML(t *testing.T) {
	svc := newTestService()

	data, err := svc.ResultsYAML(sampleResults())
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "https://docs.example.com/", decoded[0]["url"])
	assert.Contains(t, decoded[0], "word_count")
	assert.Equal(t, "failed", decoded[1]["status"])
}
