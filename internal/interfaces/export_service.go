package interfaces

import (
	"github.com/ternarybob/colligo/internal/models"
)

// ExportService renders completed crawl output into download formats.
type ExportService interface {
	// CorpusHTML renders the job's final Markdown as a standalone HTML page
	CorpusHTML(job *models.Job) ([]byte, error)

	// CorpusPDF renders the job's final Markdown as a PDF document
	CorpusPDF(job *models.Job) ([]byte, error)

	// ResultsJSON renders page results as a JSON array
	ResultsJSON(results []*models.PageResult) ([]byte, error)

	// ResultsJSONL renders page results as newline-delimited JSON
	ResultsJSONL(results []*models.PageResult) ([]byte, error)

	// ResultsYAML renders page results as a YAML document
	ResultsYAML(results []*models.PageResult) ([]byte, error)
}
