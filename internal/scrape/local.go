package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/munivars/internal/model"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; MunivarsBot/1.0)"
	maxBodyBytes     = 2 * 1024 * 1024
)

// LocalScraper fetches HTML via net/http, detects blocks, and converts to
// plaintext. Free, no API calls. Falls through to Jina/Firecrawl when blocked.
type LocalScraper struct {
	client    *http.Client
	userAgent string
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) LocalOption {
	return func(l *LocalScraper) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) LocalOption {
	return func(l *LocalScraper) {
		if d > 0 {
			l.client.Timeout = d
		}
	}
}

// NewLocalScraper creates a LocalScraper with a 30s request timeout.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		userAgent: defaultUserAgent,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, detects blocks, and reduces the HTML to text and links.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(err, "local_http: create request"), false)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en;q=0.9")

	resp, err := l.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are scoped to this URL.
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(err, "local_http: fetch"), true)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(err, "local_http: read body"), true)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		e := model.NewError(model.ErrPageFetchFailed, fmt.Sprintf("local_http: blocked (%s)", blockType), true)
		e.StatusCode = resp.StatusCode
		return nil, e
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := model.NewError(model.ErrPageFetchFailed, fmt.Sprintf("local_http: status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), true)
		e.StatusCode = resp.StatusCode
		return nil, e
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "pdf") || strings.HasPrefix(ct, "image/") {
		return nil, model.NewError(model.ErrPageFetchFailed, "local_http: unsupported content type "+ct, false)
	}

	// Many municipal sites still serve Shift_JIS or EUC-JP.
	r, err := charset.NewReader(bytes.NewReader(body), ct)
	if err != nil {
		r = bytes.NewReader(body)
	}
	doc := parseHTML(r, resp.Request.URL)
	if doc.Text == "" {
		return nil, model.NewError(model.ErrPageFetchFailed, "local_http: empty page", false)
	}

	return &Result{
		Page: model.PageContent{
			URL:        targetURL,
			Title:      doc.Title,
			Text:       doc.Text,
			StatusCode: resp.StatusCode,
			Source:     "local_http",
			FetchedAt:  time.Now().UTC(),
		},
		Links:  doc.Links,
		Source: "local_http",
	}, nil
}
