package crawler

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
)

// qualityBytesPerPoint scales the configured quality threshold to a minimum
// Markdown size in bytes.
const qualityBytesPerPoint = 10

var (
	residualTagPattern   = regexp.MustCompile(`</?(?:div|span|section|article)[^>]*>`)
	trailingSpacePattern = regexp.MustCompile(`[ \t]+\n`)
	excessNewlinePattern = regexp.MustCompile(`\n{3,}`)
)

// MarkdownConverter renders cleaned HTML as compact Markdown meant for text
// corpora rather than rendering: ATX headings, fenced code blocks, links
// reduced to their text and images to their alt text. Safe for concurrent
// use by multiple workers.
type MarkdownConverter struct {
	converter *md.Converter
}

func NewMarkdownConverter() *MarkdownConverter {
	opts := &md.Options{
		HeadingStyle:     "atx",
		CodeBlockStyle:   "fenced",
		Fence:            "```",
		BulletListMarker: "-",
		HorizontalRule:   "----",
	}

	converter := md.NewConverter("", true, opts)
	converter.Use(plugin.Table())
	converter.AddRules(
		md.Rule{
			Filter: []string{"a"},
			Replacement: func(content string, selec *goquery.Selection, options *md.Options) *string {
				text := strings.TrimSpace(content)
				if text == "" {
					return md.String("")
				}
				return md.String("[" + text + "]")
			},
		},
		md.Rule{
			Filter: []string{"img"},
			Replacement: func(content string, selec *goquery.Selection, options *md.Options) *string {
				alt := strings.TrimSpace(selec.AttrOr("alt", ""))
				if alt == "" {
					return md.String("")
				}
				return md.String("[IMAGE: " + alt + "]")
			},
		},
	)

	return &MarkdownConverter{converter: converter}
}

// Convert renders the selection to normalized Markdown.
func (c *MarkdownConverter) Convert(content *goquery.Selection) string {
	return NormalizeMarkdown(c.converter.Convert(content))
}

// NormalizeMarkdown tidies converter output: residual container tags are
// stripped, line endings right-trimmed, and blank runs collapsed to a single
// empty line.
func NormalizeMarkdown(markdown string) string {
	markdown = residualTagPattern.ReplaceAllString(markdown, "")
	markdown = trailingSpacePattern.ReplaceAllString(markdown, "\n")
	markdown = excessNewlinePattern.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

// ContentHash fingerprints Markdown for near-duplicate detection: FNV-64a
// over the lowercased, whitespace-collapsed text, so pages differing only in
// formatting hash alike.
func ContentHash(markdown string) uint64 {
	normalized := strings.ToLower(strings.Join(strings.Fields(markdown), " "))
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return h.Sum64()
}

// CheckQuality applies the content gate: a minimum size derived from the
// configured threshold, and at least one line of real block structure.
// Returns the rejection reason and false when the page fails the gate.
func CheckQuality(markdown string, threshold int) (string, bool) {
	minBytes := threshold * qualityBytesPerPoint
	if len(markdown) < minBytes {
		return fmt.Sprintf("content too short: %d bytes, minimum %d", len(markdown), minBytes), false
	}
	if !hasBlockStructure(markdown) {
		return "no headings, paragraphs or code blocks", false
	}
	return "", true
}

// hasBlockStructure reports whether any non-blank line is a heading, a code
// fence, or contains at least one letter or digit.
func hasBlockStructure(markdown string) bool {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			return true
		}
		for _, r := range line {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}
