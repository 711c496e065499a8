package search

import (
	"context"
	"errors"
	"net/url"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/resilience"
	"github.com/sells-group/munivars/pkg/brave"
	"github.com/sells-group/munivars/pkg/google"
)

// Backend names.
const (
	BackendBrave  = "brave"
	BackendGoogle = "google"
)

// Options narrow a single search.
type Options struct {
	// SiteRestrict limits results to a host.
	SiteRestrict string
	Count        int
}

// Backend is one search provider.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]model.SearchResult, error)
}

type braveBackend struct {
	client brave.Client
}

// NewBraveBackend adapts a Brave client.
func NewBraveBackend(c brave.Client) Backend { return &braveBackend{client: c} }

func (b *braveBackend) Name() string { return BackendBrave }

func (b *braveBackend) Search(ctx context.Context, query string, opts Options) ([]model.SearchResult, error) {
	resp, err := b.client.Search(ctx, brave.SearchRequest{
		Query: query,
		Site:  opts.SiteRestrict,
		Count: opts.Count,
	})
	if err != nil {
		var se *brave.StatusError
		if errors.As(err, &se) {
			return nil, classifyStatus(err, se.StatusCode)
		}
		return nil, err
	}

	hits := resp.Results()
	out := make([]model.SearchResult, 0, len(hits))
	for _, r := range hits {
		out = append(out, model.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Description,
			DisplayHost: hostOf(r.URL),
		})
	}
	return out, nil
}

type googleBackend struct {
	client google.Client
}

// NewGoogleBackend adapts a Custom Search client.
func NewGoogleBackend(c google.Client) Backend { return &googleBackend{client: c} }

func (g *googleBackend) Name() string { return BackendGoogle }

func (g *googleBackend) Search(ctx context.Context, query string, opts Options) ([]model.SearchResult, error) {
	resp, err := g.client.Search(ctx, google.SearchRequest{
		Query:      query,
		Num:        opts.Count,
		SiteSearch: opts.SiteRestrict,
	})
	if err != nil {
		var se *google.StatusError
		if errors.As(err, &se) {
			return nil, classifyStatus(err, se.StatusCode)
		}
		return nil, err
	}

	out := make([]model.SearchResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		host := it.DisplayLink
		if host == "" {
			host = hostOf(it.Link)
		}
		out = append(out, model.SearchResult{
			Title:       it.Title,
			URL:         it.Link,
			Snippet:     it.Snippet,
			DisplayHost: host,
		})
	}
	return out, nil
}

// classifyStatus marks 429/5xx responses transient so the executor retries
// them; anything else is a permanent SEARCH_FAILED.
func classifyStatus(err error, status int) error {
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	e := model.WrapError(model.ErrSearchFailed, err, false)
	e.StatusCode = status
	return e
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
