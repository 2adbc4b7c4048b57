package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/colligo/internal/models"
)

// trackingKeys are query parameters dropped during normalization. utm_* is
// matched by prefix separately.
var trackingKeys = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"msclkid": true,
}

// disallowedExtensions are path suffixes that never yield crawlable prose:
// images, archives, media, stylesheets, scripts and machine-readable feeds.
var disallowedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".bmp": true, ".tiff": true,
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".bz2": true,
	".7z": true, ".rar": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".wav": true, ".ogg": true, ".m4a": true, ".m4v": true,
	".css": true, ".js": true, ".mjs": true,
	".json": true, ".xml": true, ".rss": true, ".atom": true,
}

// navigationRegions matches containers whose links are chrome rather than
// content: explicit landmark elements plus anything whose class or id hints
// at navigation. Links inside these are dropped during extraction.
const navigationRegions = "nav, header, footer, aside, " +
	"[class*='nav'], [id*='nav'], [class*='menu'], [id*='menu'], " +
	"[class*='sidebar'], [id*='sidebar'], [class*='toc'], [id*='toc'], " +
	"[class*='breadcrumb'], [id*='breadcrumb']"

// Policy decides which URLs are in scope for one job. It is built once per
// job from the seed URL and the config snapshot, and is safe for concurrent
// use by all of the job's workers.
type Policy struct {
	seed         *url.URL
	config       models.CrawlConfig
	allowedHosts map[string]bool
	exclude      []*regexp.Regexp
}

// NewPolicy parses and normalizes the seed URL, fills seed-dependent config
// defaults and compiles the exclude patterns. Returns the policy and the
// canonical seed URL.
func NewPolicy(seedURL string, config models.CrawlConfig) (*Policy, string, error) {
	canonical, err := normalizeURL(seedURL, config.IncludeAnchors)
	if err != nil {
		return nil, "", fmt.Errorf("invalid seed URL: %w", err)
	}

	seed, err := url.Parse(canonical)
	if err != nil {
		return nil, "", fmt.Errorf("invalid seed URL: %w", err)
	}
	if seed.Scheme != "http" && seed.Scheme != "https" {
		return nil, "", fmt.Errorf("seed URL scheme must be http or https, got %q", seed.Scheme)
	}
	if seed.Hostname() == "" {
		return nil, "", fmt.Errorf("seed URL has no host")
	}

	config.ApplySeedDefaults(seed)

	allowed := make(map[string]bool, len(config.AllowedHosts))
	for _, host := range config.AllowedHosts {
		allowed[strings.ToLower(host)] = true
	}

	exclude := make([]*regexp.Regexp, 0, len(config.ExcludePatterns))
	for _, pattern := range config.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, "", fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		exclude = append(exclude, re)
	}

	return &Policy{
		seed:         seed,
		config:       config,
		allowedHosts: allowed,
		exclude:      exclude,
	}, canonical, nil
}

// Config returns the config snapshot with seed defaults applied.
func (p *Policy) Config() models.CrawlConfig {
	return p.config
}

// Normalize canonicalizes a URL according to the job's config.
func (p *Policy) Normalize(rawURL string) (string, error) {
	return normalizeURL(rawURL, p.config.IncludeAnchors)
}

// normalizeURL produces the canonical form of an absolute URL: lowercase
// scheme and host, default ports dropped, dot segments resolved, tracking
// query keys removed and the remainder sorted. Trailing slashes are kept
// because they are significant for path-prefix scoping. The function is
// idempotent: normalizing a canonical URL returns it unchanged.
func normalizeURL(rawURL string, keepFragment bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	} else {
		u.Host = host + ":" + port
	}

	if u.Path != "" {
		trailing := strings.HasSuffix(u.Path, "/")
		cleaned := path.Clean(u.Path)
		if trailing && cleaned != "/" {
			cleaned += "/"
		}
		u.Path = cleaned
		u.RawPath = ""
	}

	if !keepFragment {
		u.Fragment = ""
	}

	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if strings.HasPrefix(key, "utm_") || trackingKeys[key] {
				query.Del(key)
			}
		}
		// Encode sorts keys lexicographically
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}

// URLKey returns the dedup and storage key for a canonical URL: a truncated
// SHA-256 of the canonical form.
func URLKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

// ShouldCrawl reports whether a canonical URL at the given depth is in scope
// for this job. All clauses must hold; the reason names the first that fails.
func (p *Policy) ShouldCrawl(canonical string, depth int) (bool, string) {
	u, err := url.Parse(canonical)
	if err != nil {
		return false, "unparseable URL"
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false, "scheme is not http or https"
	}

	host := strings.ToLower(u.Hostname())
	if !p.allowedHosts[host] && !p.config.FollowExternalLinks {
		return false, "host not in allowed_hosts"
	}

	for _, re := range p.exclude {
		if re.MatchString(u.Path) {
			return false, "path matches exclude pattern"
		}
	}

	if disallowedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return false, "disallowed file extension"
	}

	// The prefix restriction is relative to the seed's path, so it only
	// constrains URLs on the seed's own host.
	if p.config.RespectPathPrefix && host == strings.ToLower(p.seed.Hostname()) {
		if !p.withinSeedPrefix(u.Path) {
			return false, "outside seed path prefix"
		}
	}

	if depth > p.config.MaxDepth {
		return false, "beyond max depth"
	}

	return true, ""
}

func (p *Policy) withinSeedPrefix(urlPath string) bool {
	seedPath := p.seed.Path
	if urlPath == seedPath {
		return true
	}
	prefix := seedPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(urlPath, prefix)
}

// ExtractLinks returns the canonical link candidates of a parsed page:
// every anchor href outside navigation chrome, resolved against the base
// URL, normalized and de-duplicated within the page. Scope filtering is the
// caller's job via ShouldCrawl.
func (p *Policy) ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || shouldSkipHref(href) {
			return
		}
		if s.Closest(navigationRegions).Length() > 0 {
			return
		}

		resolved, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		canonical, err := p.Normalize(resolved.String())
		if err != nil {
			return
		}
		if seen[canonical] {
			return
		}
		seen[canonical] = true
		links = append(links, canonical)
	})

	return links
}

// shouldSkipHref filters href values that can never be crawlable pages.
func shouldSkipHref(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "sms:", "ftp:", "data:"} {
		if strings.HasPrefix(href, scheme) {
			return true
		}
	}
	return false
}
