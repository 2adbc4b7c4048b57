package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	bodyFont = "Arial"
	codeFont = "Courier"
	bodySize = 9.0
	lineUnit = 5.0
)

// CorpusPDF renders the job's concatenated Markdown as an A4 PDF.
func (s *Service) CorpusPDF(job *models.Job) ([]byte, error) {
	source := []byte(job.FinalMarkdown)
	root := s.md.Parser().Parse(text.NewReader(source))

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(job.SeedURL, true)
	doc.SetMargins(10, 10, 10)
	doc.SetAutoPageBreak(true, 10)
	doc.AddPage()
	doc.SetFont(bodyFont, "", bodySize)

	renderer := &pdfRenderer{
		doc: doc,
		src: source,
		// Core fonts are cp1252; map what we can, drop the rest.
		translate: doc.UnicodeTranslatorFromDescriptor(""),
	}
	if err := renderer.render(root); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("PDF render failed")
		return nil, fmt.Errorf("failed to render corpus PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("PDF output failed")
		return nil, fmt.Errorf("failed to write corpus PDF: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Int("markdown_len", len(job.FinalMarkdown)).
		Int("pdf_bytes", buf.Len()).
		Msg("Rendered corpus PDF")

	return buf.Bytes(), nil
}

type listState struct {
	ordered bool
	index   int
}

// pdfRenderer walks a Markdown AST and draws it onto an fpdf page. Inline
// style is tracked as state because fpdf has a single current font.
type pdfRenderer struct {
	doc       *fpdf.Fpdf
	src       []byte
	translate func(string) string
	bold      bool
	italic    bool
	lists     []listState
}

func (r *pdfRenderer) render(node ast.Node) error {
	return ast.Walk(node, r.walk)
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindHeading:
		r.handleHeading(n.(*ast.Heading), entering)
	case ast.KindParagraph:
		if !entering && len(r.lists) == 0 {
			r.doc.Ln(6)
		}
	case ast.KindText:
		if entering {
			r.handleText(n.(*ast.Text))
		}
	case ast.KindEmphasis:
		if n.(*ast.Emphasis).Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case ast.KindCodeSpan:
		return r.handleCodeSpan(n, entering)
	case ast.KindFencedCodeBlock:
		if entering {
			r.renderCodeBlock(n.Lines())
			return ast.WalkSkipChildren, nil
		}
	case ast.KindCodeBlock:
		if entering {
			r.renderCodeBlock(n.Lines())
			return ast.WalkSkipChildren, nil
		}
	case ast.KindList:
		r.handleList(n.(*ast.List), entering)
	case ast.KindListItem:
		if entering {
			r.handleListItem()
		}
	case ast.KindThematicBreak:
		if entering {
			r.doc.Ln(3)
			r.doc.Line(10, r.doc.GetY(), 200, r.doc.GetY())
			r.doc.Ln(3)
		}
	case extast.KindTable:
		if entering {
			r.renderTable(collectTableRows(n, r.src))
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.doc.SetFont(bodyFont, style, bodySize)
}

func (r *pdfRenderer) write(text string) {
	r.doc.Write(lineUnit, r.translate(text))
}

func (r *pdfRenderer) handleHeading(n *ast.Heading, entering bool) {
	if entering {
		r.doc.Ln(6)
		size := 10.0
		switch n.Level {
		case 1:
			size = 14
		case 2:
			size = 12
		case 3:
			size = 11
		}
		r.doc.SetFont(bodyFont, "B", size)
	} else {
		r.doc.Ln(6)
		r.updateFont()
	}
}

func (r *pdfRenderer) handleText(n *ast.Text) {
	r.write(string(n.Segment.Value(r.src)))
	if n.HardLineBreak() {
		r.doc.Ln(lineUnit)
	} else if n.SoftLineBreak() {
		r.write(" ")
	}
}

func (r *pdfRenderer) handleCodeSpan(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		r.doc.SetFont(codeFont, "", bodySize)
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if textNode, ok := c.(*ast.Text); ok {
				r.write(string(textNode.Segment.Value(r.src)))
			}
		}
		return ast.WalkSkipChildren, nil
	}
	r.updateFont()
	return ast.WalkSkipChildren, nil
}

func (r *pdfRenderer) renderCodeBlock(lines *text.Segments) {
	r.doc.Ln(2)
	r.doc.SetFont(codeFont, "", bodySize)
	r.doc.SetFillColor(245, 245, 245)

	for i := 0; i < lines.Len(); i++ {
		line := strings.TrimRight(string(lines.At(i).Value(r.src)), "\n")
		r.doc.MultiCell(0, lineUnit, r.translate(line), "", "L", true)
	}

	r.doc.SetFillColor(255, 255, 255)
	r.updateFont()
	r.doc.Ln(2)
}

func (r *pdfRenderer) handleList(n *ast.List, entering bool) {
	if entering {
		start := n.Start
		if start == 0 {
			start = 1
		}
		r.lists = append(r.lists, listState{ordered: n.IsOrdered(), index: start})
		return
	}
	r.lists = r.lists[:len(r.lists)-1]
	if len(r.lists) == 0 {
		r.doc.Ln(3)
	}
}

func (r *pdfRenderer) handleListItem() {
	r.doc.Ln(lineUnit)
	r.doc.SetX(10 + float64(len(r.lists))*5)

	top := &r.lists[len(r.lists)-1]
	if top.ordered {
		r.write(fmt.Sprintf("%d. ", top.index))
		top.index++
	} else {
		r.write("- ")
	}
}

func collectTableRows(table ast.Node, src []byte) [][]string {
	var rows [][]string

	var visit func(node ast.Node)
	visit = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch row := child.(type) {
			case *extast.TableRow:
				rows = append(rows, extractTableCells(row, src))
			case *extast.TableHeader:
				rows = append(rows, extractTableCells(row, src))
			default:
				visit(child)
			}
		}
	}
	visit(table)
	return rows
}

func extractTableCells(row ast.Node, src []byte) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			cells = append(cells, string(cell.Text(src)))
		}
	}
	return cells
}

// renderTable draws rows in an equal-width grid with wrapped cell text. The
// first row is the header.
func (r *pdfRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	const tableWidth = 190.0
	const cellLine = 4.0
	const maxCellLines = 6
	cols := len(rows[0])
	colWidth := tableWidth / float64(cols)

	r.doc.Ln(2)
	for i, row := range rows {
		header := i == 0
		if header {
			r.doc.SetFont(bodyFont, "B", 8)
			r.doc.SetFillColor(230, 230, 230)
		} else {
			r.doc.SetFont(bodyFont, "", 8)
		}

		cellLines := make([][]string, cols)
		depth := 1
		for j := 0; j < cols; j++ {
			var cell string
			if j < len(row) {
				cell = r.translate(row[j])
			}
			cellLines[j] = r.wrapCell(cell, colWidth-2)
			if len(cellLines[j]) > depth {
				depth = len(cellLines[j])
			}
		}
		if depth > maxCellLines {
			depth = maxCellLines
		}
		rowHeight := float64(depth)*cellLine + 2

		if r.doc.GetY()+rowHeight > 282 {
			r.doc.AddPage()
		}
		x, y := r.doc.GetX(), r.doc.GetY()

		for j := 0; j < cols; j++ {
			cellX := x + float64(j)*colWidth
			if header {
				r.doc.Rect(cellX, y, colWidth, rowHeight, "FD")
			} else {
				r.doc.Rect(cellX, y, colWidth, rowHeight, "D")
			}

			r.doc.SetXY(cellX+1, y+1)
			for k := 0; k < len(cellLines[j]) && k < depth; k++ {
				line := cellLines[j][k]
				if k == depth-1 && len(cellLines[j]) > depth {
					line = r.truncateWithEllipsis(line, colWidth-2)
				}
				r.doc.CellFormat(colWidth-2, cellLine, line, "", 2, "L", false, 0, "")
			}
		}

		r.doc.SetXY(x, y+rowHeight)
	}

	r.doc.Ln(3)
	r.updateFont()
}

func (r *pdfRenderer) wrapCell(text string, width float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if r.doc.GetStringWidth(current+" "+word) <= width {
			current += " " + word
		} else {
			lines = append(lines, current)
			current = word
		}
	}
	return append(lines, current)
}

func (r *pdfRenderer) truncateWithEllipsis(line string, width float64) string {
	for r.doc.GetStringWidth(line+"...") > width && len(line) > 3 {
		line = line[:len(line)-1]
	}
	return line + "..."
}
