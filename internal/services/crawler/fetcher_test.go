package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

func newTestFetcher(maxBodySize int) *Fetcher {
	return NewFetcher(&common.CrawlerConfig{
		UserAgent:   "colligo-test/1.0",
		MaxBodySize: maxBodySize,
	}, arbor.NewLogger())
}

func fetchErrorKind(t *testing.T, err error) FetchErrorKind {
	t.Helper()
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error %v is not a *FetchError", err)
	}
	return fetchErr.Kind
}

func TestFetchSendsIdentityHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>ok</p></body></html>")
	}))
	defer srv.Close()

	f := newTestFetcher(1 << 20)
	result, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if gotUA != "colligo-test/1.0" {
		t.Errorf("User-Agent = %q, want colligo-test/1.0", gotUA)
	}
	if !strings.Contains(gotAccept, "text/html") {
		t.Errorf("Accept = %q, want to contain text/html", gotAccept)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if !strings.Contains(string(result.Body), "ok") {
		t.Errorf("Body = %q, want page content", result.Body)
	}
}

func TestFetchClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  FetchErrorKind
		retryable bool
	}{
		{http.StatusNotFound, FetchErrHTTP4xx, false},
		{http.StatusForbidden, FetchErrHTTP4xx, false},
		{http.StatusInternalServerError, FetchErrHTTP5xx, true},
		{http.StatusServiceUnavailable, FetchErrHTTP5xx, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := newTestFetcher(1 << 20)
			_, err := f.Fetch(context.Background(), srv.URL)
			if err == nil {
				t.Fatalf("Fetch of a %d page should fail", tt.status)
			}

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("error %v is not a *FetchError", err)
			}
			if fetchErr.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", fetchErr.Kind, tt.wantKind)
			}
			if fetchErr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", fetchErr.StatusCode, tt.status)
			}
			if fetchErr.Retryable() != tt.retryable {
				t.Errorf("Retryable = %v, want %v", fetchErr.Retryable(), tt.retryable)
			}
		})
	}
}

func TestFetchRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	}))
	defer srv.Close()

	f := newTestFetcher(1 << 20)
	_, err := f.Fetch(context.Background(), srv.URL)

	if kind := fetchErrorKind(t, err); kind != FetchErrContentType {
		t.Errorf("kind = %q, want %q", kind, FetchErrContentType)
	}
	var fetchErr *FetchError
	errors.As(err, &fetchErr)
	if fetchErr.Retryable() {
		t.Error("wrong content type should not be retryable")
	}
}

func TestIsHTMLContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"TEXT/HTML", true},
		{"", true},
		{"application/json", false},
		{"text/plain", false},
		{"image/png", false},
	}

	for _, tt := range tests {
		if got := isHTMLContentType(tt.contentType); got != tt.want {
			t.Errorf("isHTMLContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, strings.Repeat("x", 1024))
	}))
	defer srv.Close()

	f := newTestFetcher(64)
	_, err := f.Fetch(context.Background(), srv.URL)

	if kind := fetchErrorKind(t, err); kind != FetchErrTooLarge {
		t.Errorf("kind = %q, want %q", kind, FetchErrTooLarge)
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>moved here</p></body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(1 << 20)
	result, err := f.Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if result.FinalURL != srv.URL+"/new" {
		t.Errorf("FinalURL = %q, want %q", result.FinalURL, srv.URL+"/new")
	}
	if result.URL != srv.URL+"/old" {
		t.Errorf("URL = %q, want the requested URL preserved", result.URL)
	}
}

func TestFetchStopsAfterRedirectLimit(t *testing.T) {
	var hops atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hops.Add(1)
		http.Redirect(w, r, fmt.Sprintf("/hop-%d", n), http.StatusFound)
	}))
	defer srv.Close()

	f := newTestFetcher(1 << 20)
	_, err := f.Fetch(context.Background(), srv.URL)

	if kind := fetchErrorKind(t, err); kind != FetchErrNetwork {
		t.Errorf("kind = %q, want %q", kind, FetchErrNetwork)
	}
	if n := int(hops.Load()); n > maxRedirects+1 {
		t.Errorf("server saw %d hops, want at most %d", n, maxRedirects+1)
	}
}

func TestFetchClassifiesContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := newTestFetcher(1 << 20)
	_, err := f.Fetch(ctx, srv.URL)

	if kind := fetchErrorKind(t, err); kind != FetchErrTimeout {
		t.Errorf("kind = %q, want %q", kind, FetchErrTimeout)
	}
}
