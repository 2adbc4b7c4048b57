package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// ExtractedContent is the extractor's output for one page.
type ExtractedContent struct {
	Title     string
	Markdown  string
	WordCount int
	Hash      uint64
}

// titleSelectors are tried in order before the meta and <title> fallbacks.
var titleSelectors = []string{"main h1", "article h1", ".content h1"}

// contentSelectors rank the containers most likely to hold the main prose.
// The article-outside-footer case is handled separately between "main" and
// the class-based selectors.
var contentSelectors = []string{
	"main[role='main']",
	"article[role='article']",
	"[role='main']",
	"main",
}

var contentClassSelectors = []string{
	".documentation-content",
	".docs-content",
	".markdown-body",
	".article-content",
	".content",
}

// removeSelectors name the chrome stripped from the selected content before
// conversion: non-content elements, navigation landmarks, and containers
// whose class or id marks them as comments, sharing widgets or ads.
var removeSelectors = strings.Join([]string{
	"script", "style", "noscript", "iframe", "form", "link", "meta",
	"nav", "header", "footer", "aside",
	"[role='navigation']", ".sidebar", ".toc", ".table-of-contents",
	"[class*='comment']", "[id*='comment']",
	"[class*='share']", "[id*='share']",
	"[class*='social']", "[id*='social']",
	"[class*='ads']", "[id*='ads']",
	"[aria-hidden='true']", "[role='presentation']",
}, ", ")

// Extractor turns a parsed HTML document into the page's title and a compact
// Markdown rendering of its main prose. Safe for concurrent use.
type Extractor struct {
	converter *MarkdownConverter
	logger    arbor.ILogger
}

func NewExtractor(logger arbor.ILogger) *Extractor {
	return &Extractor{
		converter: NewMarkdownConverter(),
		logger:    logger,
	}
}

// Extract selects the main content region, cleans it and converts it to
// Markdown. The document itself is never mutated; cleaning happens on a
// clone so callers may keep using the parsed tree.
func (e *Extractor) Extract(doc *goquery.Document) *ExtractedContent {
	title := extractTitle(doc)

	content := selectMainContent(doc).Clone()
	cleanContent(content)

	markdown := e.converter.Convert(content)

	return &ExtractedContent{
		Title:     title,
		Markdown:  markdown,
		WordCount: models.CountWords(markdown),
		Hash:      ContentHash(markdown),
	}
}

// extractTitle walks the title ladder: content headings, then metadata, then
// the document title before its first "|", then any h1.
func extractTitle(doc *goquery.Document) string {
	for _, selector := range titleSelectors {
		if title := collapseSpace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	if title := collapseSpace(doc.Find("meta[name='title']").AttrOr("content", "")); title != "" {
		return title
	}
	if title := collapseSpace(doc.Find("meta[property='og:title']").AttrOr("content", "")); title != "" {
		return title
	}
	if raw := doc.Find("title").First().Text(); raw != "" {
		if title := collapseSpace(strings.SplitN(raw, "|", 2)[0]); title != "" {
			return title
		}
	}
	if title := collapseSpace(doc.Find("h1").First().Text()); title != "" {
		return title
	}
	return "Untitled Page"
}

// selectMainContent tries the ranked selector ladder, then falls back to
// scoring generic containers, then to the body.
func selectMainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		if s := doc.Find(selector).First(); s.Length() > 0 {
			return s
		}
	}

	var article *goquery.Selection
	doc.Find("article").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Closest("footer").Length() == 0 {
			article = s
			return false
		}
		return true
	})
	if article != nil {
		return article
	}

	for _, selector := range contentClassSelectors {
		if s := doc.Find(selector).First(); s.Length() > 0 {
			return s
		}
	}

	if best := bestScoredContainer(doc); best != nil {
		return best
	}

	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

// bestScoredContainer scores every div and section by its content density
// and returns the highest scorer, nil when nothing scores above zero.
func bestScoredContainer(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestScore := 0

	doc.Find("div, section").Each(func(_ int, s *goquery.Selection) {
		score := 10*s.Find("p").Length() +
			15*s.Find("h1, h2, h3, h4, h5, h6").Length() +
			20*s.Find("pre, code").Length() +
			5*s.Find("ul, ol").Length() +
			len(strings.TrimSpace(s.Text()))/100
		if score > bestScore {
			bestScore = score
			best = s
		}
	})

	return best
}

// cleanContent strips chrome and presentation noise from the selection in
// place: unwanted elements, style and data attributes, then elements left
// empty by the removals.
func cleanContent(content *goquery.Selection) {
	content.Find(removeSelectors).Remove()

	// Code fence languages are inferred from class, so carry a data-lang
	// hint over before data attributes are stripped.
	content.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		code := pre.Find("code").First()
		target := code
		if target.Length() == 0 {
			target = pre
		}
		if lang := codeLanguage(pre, code); lang != "" && !strings.Contains(target.AttrOr("class", ""), "language-") {
			target.AddClass("language-" + lang)
		}
	})

	content.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		var drop []string
		for _, attr := range node.Attr {
			if attr.Key == "style" || strings.HasPrefix(attr.Key, "data-") {
				drop = append(drop, attr.Key)
			}
		}
		for _, key := range drop {
			s.RemoveAttr(key)
		}
	})

	content.Find("p, div, span, li, ul, ol, section, blockquote").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) == "" && s.Find("img, pre, code, table, br, hr").Length() == 0 {
			s.Remove()
		}
	})
}

// codeLanguage reads the fence language from class or data-lang attributes
// of a pre element or its code child.
func codeLanguage(pre, code *goquery.Selection) string {
	for _, sel := range []*goquery.Selection{code, pre} {
		if sel.Length() == 0 {
			continue
		}
		for _, class := range strings.Fields(sel.AttrOr("class", "")) {
			for _, prefix := range []string{"language-", "lang-"} {
				if strings.HasPrefix(class, prefix) {
					return strings.TrimPrefix(class, prefix)
				}
			}
		}
		if lang := strings.TrimSpace(sel.AttrOr("data-lang", "")); lang != "" {
			return lang
		}
	}
	return ""
}

// collapseSpace trims and folds internal whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
