package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// Service renders completed crawl output into the download formats served by
// the HTTP layer. Stateless; safe for concurrent use.
type Service struct {
	logger arbor.ILogger
	md     goldmark.Markdown
}

var _ interfaces.ExportService = (*Service)(nil)

func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithXHTML()),
		),
	}
}

// CorpusHTML renders the job's concatenated Markdown as a standalone page.
func (s *Service) CorpusHTML(job *models.Job) ([]byte, error) {
	var body bytes.Buffer
	if err := s.md.Convert([]byte(job.FinalMarkdown), &body); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Markdown to HTML conversion failed")
		return nil, fmt.Errorf("failed to render corpus HTML: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Int("markdown_len", len(job.FinalMarkdown)).
		Int("html_len", body.Len()).
		Msg("Rendered corpus HTML")

	return []byte(wrapCorpusPage(job, body.String())), nil
}

// ResultsJSON renders page results as an indented JSON array.
func (s *Service) ResultsJSON(results []*models.PageResult) ([]byte, error) {
	if results == nil {
		results = []*models.PageResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode results as JSON: %w", err)
	}
	return data, nil
}

// ResultsJSONL renders page results as newline-delimited JSON, one record per
// line.
func (s *Service) ResultsJSONL(results []*models.PageResult) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, result := range results {
		if err := encoder.Encode(result); err != nil {
			return nil, fmt.Errorf("failed to encode result %s: %w", result.URL, err)
		}
	}
	return buf.Bytes(), nil
}

// ResultsYAML renders page results as a single YAML document.
func (s *Service) ResultsYAML(results []*models.PageResult) ([]byte, error) {
	if results == nil {
		results = []*models.PageResult{}
	}
	data, err := yaml.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode results as YAML: %w", err)
	}
	return data, nil
}

// wrapCorpusPage embeds rendered HTML in a self-contained document with
// inline styling, so the download opens readably without external assets.
func wrapCorpusPage(job *models.Job, content string) string {
	title := escapeHTML(job.SeedURL)
	generated := time.Now().UTC().Format(time.RFC3339)

	return `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>` + title + `</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
      line-height: 1.6;
      color: #333;
      max-width: 900px;
      margin: 0 auto;
      padding: 20px;
      background-color: #f9f9f9;
    }
    .content {
      background-color: #fff;
      padding: 30px;
      border-radius: 8px;
      box-shadow: 0 1px 3px rgba(0,0,0,0.1);
    }
    h1 { color: #1a1a1a; font-size: 24px; border-bottom: 2px solid #eee; padding-bottom: 10px; }
    h2 { color: #2a2a2a; font-size: 20px; margin-top: 24px; }
    h3 { color: #3a3a3a; font-size: 16px; margin-top: 20px; }
    p { margin: 12px 0; }
    ul, ol { padding-left: 24px; margin: 12px 0; }
    li { margin: 6px 0; }
    code { background: #f4f4f4; padding: 2px 6px; border-radius: 3px; font-family: 'SF Mono', Monaco, 'Courier New', monospace; font-size: 14px; }
    pre { background: #f4f4f4; padding: 16px; border-radius: 6px; overflow-x: auto; font-family: 'SF Mono', Monaco, 'Courier New', monospace; font-size: 13px; }
    pre code { background: none; padding: 0; }
    blockquote { border-left: 4px solid #ddd; margin: 16px 0; padding-left: 16px; color: #666; }
    table { border-collapse: collapse; width: 100%; margin: 16px 0; }
    th, td { border: 1px solid #ddd; padding: 8px 12px; text-align: left; }
    th { background: #f4f4f4; font-weight: 600; }
    hr { border: none; border-top: 1px solid #eee; margin: 24px 0; }
  </style>
</head>
<body>
  <div class="content">
    ` + content + `
  </div>
  <div class="footer">
    <p>Crawled from ` + title + ` on ` + generated + `.</p>
  </div>
</body>
</html>`
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}
