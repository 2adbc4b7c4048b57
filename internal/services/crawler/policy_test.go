package crawler

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/colligo/internal/models"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Docs.Example.COM/Guide",
			want: "https://docs.example.com/Guide",
		},
		{
			name: "drops default https port",
			in:   "https://docs.example.com:443/guide",
			want: "https://docs.example.com/guide",
		},
		{
			name: "drops default http port",
			in:   "http://docs.example.com:80/guide",
			want: "http://docs.example.com/guide",
		},
		{
			name: "keeps non-default port",
			in:   "http://docs.example.com:8080/guide",
			want: "http://docs.example.com:8080/guide",
		},
		{
			name: "resolves dot segments",
			in:   "https://docs.example.com/guide/../api/./intro",
			want: "https://docs.example.com/api/intro",
		},
		{
			name: "preserves trailing slash",
			in:   "https://docs.example.com/guide/sub/../",
			want: "https://docs.example.com/guide/",
		},
		{
			name: "drops fragment",
			in:   "https://docs.example.com/guide#install",
			want: "https://docs.example.com/guide",
		},
		{
			name: "strips tracking params and sorts the rest",
			in:   "https://docs.example.com/guide?utm_source=x&b=2&fbclid=abc&a=1&gclid=g",
			want: "https://docs.example.com/guide?a=1&b=2",
		},
		{
			name: "trims surrounding whitespace",
			in:   "  https://docs.example.com/guide  ",
			want: "https://docs.example.com/guide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeURL(tt.in, false)
			if err != nil {
				t.Fatalf("normalizeURL(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}

			again, err := normalizeURL(got, false)
			if err != nil {
				t.Fatalf("re-normalize error: %v", err)
			}
			if again != got {
				t.Errorf("normalization is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeURLKeepsFragmentWhenConfigured(t *testing.T) {
	got, err := normalizeURL("https://docs.example.com/guide#install", true)
	if err != nil {
		t.Fatalf("normalizeURL error: %v", err)
	}
	if got != "https://docs.example.com/guide#install" {
		t.Errorf("got %q, want fragment preserved", got)
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	for _, in := range []string{"", "guide/intro", "/guide", "//docs.example.com/guide"} {
		if _, err := normalizeURL(in, false); err == nil {
			t.Errorf("normalizeURL(%q) should fail", in)
		}
	}
}

func TestURLKey(t *testing.T) {
	a := URLKey("https://docs.example.com/guide")
	b := URLKey("https://docs.example.com/guide")
	c := URLKey("https://docs.example.com/api")

	if a != b {
		t.Errorf("same URL produced different keys: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different URLs produced the same key %q", a)
	}
	if len(a) != 16 {
		t.Errorf("key length = %d, want 16", len(a))
	}
}

func newTestPolicy(t *testing.T, seed string, mutate func(*models.CrawlConfig)) *Policy {
	t.Helper()
	config := models.DefaultCrawlConfig()
	if mutate != nil {
		mutate(&config)
	}
	policy, _, err := NewPolicy(seed, config)
	if err != nil {
		t.Fatalf("NewPolicy(%q) error: %v", seed, err)
	}
	return policy
}

func TestNewPolicyValidatesSeed(t *testing.T) {
	config := models.DefaultCrawlConfig()

	for _, seed := range []string{"", "not a url", "ftp://docs.example.com/", "/relative", "mailto:doc@example.com"} {
		if _, _, err := NewPolicy(seed, config); err == nil {
			t.Errorf("NewPolicy(%q) should fail", seed)
		}
	}

	config.ExcludePatterns = []string{"[invalid"}
	if _, _, err := NewPolicy("https://docs.example.com/", config); err == nil {
		t.Error("NewPolicy should reject an invalid exclude pattern")
	}
}

func TestNewPolicyDefaultsAllowedHostsToSeed(t *testing.T) {
	policy := newTestPolicy(t, "https://Docs.Example.com/guide/", nil)

	got := policy.Config().AllowedHosts
	if len(got) != 1 || got[0] != "docs.example.com" {
		t.Errorf("AllowedHosts = %v, want [docs.example.com]", got)
	}
}

func TestShouldCrawl(t *testing.T) {
	policy := newTestPolicy(t, "https://docs.example.com/guide/", func(c *models.CrawlConfig) {
		c.MaxDepth = 2
		c.ExcludePatterns = []string{"/internal/"}
		c.AllowedHosts = []string{"docs.example.com", "api.example.com"}
	})

	tests := []struct {
		name   string
		url    string
		depth  int
		want   bool
		reason string
	}{
		{
			name:  "in scope",
			url:   "https://docs.example.com/guide/intro",
			depth: 1,
			want:  true,
		},
		{
			name:  "seed path itself",
			url:   "https://docs.example.com/guide/",
			depth: 1,
			want:  true,
		},
		{
			name:   "non-http scheme",
			url:    "ftp://docs.example.com/guide/file",
			depth:  1,
			want:   false,
			reason: "scheme is not http or https",
		},
		{
			name:   "host not allowed",
			url:    "https://blog.example.com/post",
			depth:  1,
			want:   false,
			reason: "host not in allowed_hosts",
		},
		{
			name:  "second allowed host skips prefix check",
			url:   "https://api.example.com/reference",
			depth: 1,
			want:  true,
		},
		{
			name:   "exclude pattern on path",
			url:    "https://docs.example.com/guide/internal/secret",
			depth:  1,
			want:   false,
			reason: "path matches exclude pattern",
		},
		{
			name:   "disallowed extension",
			url:    "https://docs.example.com/guide/logo.png",
			depth:  1,
			want:   false,
			reason: "disallowed file extension",
		},
		{
			name:   "outside seed path prefix",
			url:    "https://docs.example.com/blog/post",
			depth:  1,
			want:   false,
			reason: "outside seed path prefix",
		},
		{
			name:   "beyond max depth",
			url:    "https://docs.example.com/guide/deep",
			depth:  3,
			want:   false,
			reason: "beyond max depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := policy.ShouldCrawl(tt.url, tt.depth)
			if got != tt.want {
				t.Fatalf("ShouldCrawl(%q, %d) = %v (%s), want %v", tt.url, tt.depth, got, reason, tt.want)
			}
			if !tt.want && reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestShouldCrawlFollowExternalLinks(t *testing.T) {
	policy := newTestPolicy(t, "https://docs.example.com/", func(c *models.CrawlConfig) {
		c.FollowExternalLinks = true
	})

	if ok, reason := policy.ShouldCrawl("https://other.example.org/page", 1); !ok {
		t.Errorf("external link should be in scope when follow_external_links is set, got %q", reason)
	}
}

func TestShouldCrawlWithoutPathPrefix(t *testing.T) {
	policy := newTestPolicy(t, "https://docs.example.com/guide/", func(c *models.CrawlConfig) {
		c.RespectPathPrefix = false
	})

	if ok, reason := policy.ShouldCrawl("https://docs.example.com/blog/post", 1); !ok {
		t.Errorf("sibling path should be in scope when respect_path_prefix is off, got %q", reason)
	}
}

func TestExtractLinks(t *testing.T) {
	page := `<html><body>
		<nav><a href="/nav-link">Nav</a></nav>
		<div class="sidebar-menu"><a href="/menu-link">Menu</a></div>
		<main>
			<p><a href="/guide/intro">Intro</a></p>
			<p><a href="intro">Relative</a></p>
			<p><a href="/guide/intro#section">Same after normalization</a></p>
			<p><a href="https://other.example.org/page">External</a></p>
			<p><a href="mailto:docs@example.com">Mail</a></p>
			<p><a href="javascript:void(0)">JS</a></p>
			<p><a href="#top">Anchor</a></p>
		</main>
		<footer><a href="/footer-link">Footer</a></footer>
	</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	base, err := url.Parse("https://docs.example.com/guide/")
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}

	policy := newTestPolicy(t, "https://docs.example.com/guide/", nil)
	links := policy.ExtractLinks(doc, base)

	want := []string{
		"https://docs.example.com/guide/intro",
		"https://other.example.org/page",
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links %v, want %d", len(links), links, len(want))
	}
	for i, link := range want {
		if links[i] != link {
			t.Errorf("links[%d] = %q, want %q", i, links[i], link)
		}
	}
}

func TestExtractLinksResolvesAgainstBase(t *testing.T) {
	page := `<html><body><main><a href="../api/">API</a></main></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	base, _ := url.Parse("https://docs.example.com/guide/intro/")

	policy := newTestPolicy(t, "https://docs.example.com/", nil)
	links := policy.ExtractLinks(doc, base)

	if len(links) != 1 || links[0] != "https://docs.example.com/guide/api/" {
		t.Errorf("links = %v, want [https://docs.example.com/guide/api/]", links)
	}
}
