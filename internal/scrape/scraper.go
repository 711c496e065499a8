// Package scrape fetches municipal web pages and reduces them to plain text.
package scrape

import (
	"context"

	"github.com/sells-group/munivars/internal/model"
)

// Result holds a scraped page with its source.
type Result struct {
	Page   model.PageContent
	Links  []model.Link
	Source string // e.g. "local_http", "jina", "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
