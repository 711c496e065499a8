package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/model"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Scrapers are tried in order; the first
// successful result is returned.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// Names lists the scrapers in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.scrapers))
	for _, s := range c.scrapers {
		names = append(names, s.Name())
	}
	return names
}

// Scrape tries each scraper in order for a single URL. When every scraper
// fails, the first acquisition error is returned so the caller sees the
// origin server's status rather than a renderer's.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	var firstErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr != nil {
		var ae *model.Error
		if errors.As(firstErr, &ae) {
			return nil, firstErr
		}
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(firstErr, "scrape: all scrapers failed"), true)
	}
	return nil, model.NewError(model.ErrPageFetchFailed, "scrape: no suitable scraper for url: "+targetURL, false)
}
