package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as the last-resort renderer.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports returns true; Firecrawl can attempt any URL as a fallback.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape renders a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown", "links"},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, err, true)
	}
	if resp.Data.Markdown == "" {
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Errorf("firecrawl: empty content for %s", targetURL), false)
	}

	pageURL := resp.Data.Metadata.SourceURL
	if pageURL == "" {
		pageURL = targetURL
	}
	status := resp.Data.Metadata.StatusCode
	if status == 0 {
		status = 200
	}

	var links []model.Link
	seen := make(map[string]bool)
	for _, l := range resp.Data.Links {
		if u := resolveURL(nil, l); u != "" && !seen[u] {
			seen[u] = true
			links = append(links, model.Link{URL: u})
		}
	}

	return &Result{
		Page: model.PageContent{
			URL:        pageURL,
			Title:      resp.Data.Metadata.Title,
			Text:       collapseWhitespace(resp.Data.Markdown),
			StatusCode: status,
			Source:     "firecrawl",
			FetchedAt:  time.Now().UTC(),
		},
		Links:  links,
		Source: "firecrawl",
	}, nil
}
