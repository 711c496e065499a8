package crawl

import (
	"context"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
)

// Page is one rendered page with its outbound anchors.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []model.Link
}

// Navigator opens one page at a time within a single session.
type Navigator interface {
	Open(ctx context.Context, url string) (*Page, error)
}

type fetcherNavigator struct {
	fetcher *scrape.Fetcher
}

// NewNavigator renders pages through the scraper chain of f.
func NewNavigator(f *scrape.Fetcher) Navigator {
	return &fetcherNavigator{fetcher: f}
}

func (n *fetcherNavigator) Open(ctx context.Context, url string) (*Page, error) {
	res, err := n.fetcher.FetchResult(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:   res.Page.URL,
		Title: res.Page.Title,
		Text:  res.Page.Text,
		Links: res.Links,
	}, nil
}
