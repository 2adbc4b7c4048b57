package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

const (
	maxRedirects = 5
	acceptHeader = "text/html, application/xhtml+xml"
)

// Fetcher performs single HTTP GETs against target sites. It follows at most
// maxRedirects redirects, carries no cookies, and never sleeps; politeness
// pacing and retry backoff are the queue's job.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	logger      arbor.ILogger
}

// NewFetcher creates a fetcher from the server-side crawler settings.
// Timeouts come from the per-task context, not the client.
func NewFetcher(config *common.CrawlerConfig, logger arbor.ILogger) *Fetcher {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:      client,
		userAgent:   config.UserAgent,
		maxBodySize: int64(config.MaxBodySize),
		logger:      logger,
	}
}

// Fetch GETs one URL and returns its HTML body. Failures come back as a
// *FetchError whose kind drives retry and result-status decisions.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrNetwork, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := FetchErrHTTP4xx
		if resp.StatusCode >= 500 {
			kind = FetchErrHTTP5xx
		}
		return nil, &FetchError{Kind: kind, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContentType(contentType) {
		return nil, &FetchError{
			Kind: FetchErrContentType,
			Err:  fmt.Errorf("unsupported content type %q", contentType),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, &FetchError{
			Kind: FetchErrTooLarge,
			Err:  fmt.Errorf("body exceeds %d bytes", f.maxBodySize),
		}
	}

	f.logger.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Fetched page")

	return &FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Duration:    time.Since(start),
	}, nil
}

// classifyTransportError maps transport failures to timeout or network kinds.
func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchErrTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchErrTimeout, Err: err}
	}
	return &FetchError{Kind: FetchErrNetwork, Err: err}
}

// isHTMLContentType accepts text/html and application/xhtml+xml. An absent
// header is treated as HTML, matching how sites commonly omit it.
func isHTMLContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
