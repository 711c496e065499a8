package scrape

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/ocr"
	"github.com/sells-group/munivars/pkg/firecrawl"
	"github.com/sells-group/munivars/pkg/jina"
)

// BatchOptions bounds a FetchAll call.
type BatchOptions struct {
	Concurrency int
	Delay       time.Duration
}

// DefaultBatchOptions fetches two pages at a time with 500ms between batches.
var DefaultBatchOptions = BatchOptions{Concurrency: 2, Delay: 500 * time.Millisecond}

// FetchOutcome is the independent result of one URL in a batch.
type FetchOutcome struct {
	Page *model.PageContent
	Err  error
}

// Fetcher is the page fetcher: a scraper chain behind an in-process page
// cache and an optional robots.txt check.
type Fetcher struct {
	chain  *Chain
	cache  *gocache.Cache
	robots *RobotsChecker
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCacheTTL sets how long fetched pages are reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl <= 0 {
			f.cache = nil
			return
		}
		f.cache = gocache.New(ttl, 2*ttl)
	}
}

// WithRobots enables robots.txt checks.
func WithRobots(rc *RobotsChecker) Option {
	return func(f *Fetcher) { f.robots = rc }
}

// New creates a Fetcher over the given chain.
func New(chain *Chain, opts ...Option) *Fetcher {
	f := &Fetcher{
		chain: chain,
		cache: gocache.New(time.Hour, 10*time.Minute),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// NewFromConfig builds the PDF and local HTTP scrapers and, when keys are
// present, the Jina and Firecrawl render fallbacks.
func NewFromConfig(cfg *config.Config) *Fetcher {
	timeout := config.Seconds(cfg.Fetch.TimeoutSecs, 30*time.Second)
	var pdfOpts []PDFOption
	if x, err := ocr.New(cfg.OCR); err != nil {
		zap.L().Warn("scrape: ocr disabled", zap.Error(err))
	} else if x != nil {
		pdfOpts = append(pdfOpts, WithOCR(x))
	}
	scrapers := []Scraper{
		NewPDFScraper(cfg.Fetch.UserAgent, timeout, pdfOpts...),
		NewLocalScraper(WithUserAgent(cfg.Fetch.UserAgent), WithTimeout(timeout)),
	}

	if cfg.Jina.Key != "" {
		var opts []jina.Option
		if cfg.Jina.BaseURL != "" {
			opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
		}
		scrapers = append(scrapers, NewJinaAdapter(jina.NewClient(cfg.Jina.Key, opts...)))
	}
	if cfg.Firecrawl.Key != "" {
		var opts []firecrawl.Option
		if cfg.Firecrawl.BaseURL != "" {
			opts = append(opts, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		}
		scrapers = append(scrapers, NewFirecrawlAdapter(firecrawl.NewClient(cfg.Firecrawl.Key, opts...)))
	}

	opts := []Option{WithCacheTTL(time.Duration(cfg.Fetch.CacheTTLMins) * time.Minute)}
	if cfg.Crawl.RespectRobots {
		opts = append(opts, WithRobots(NewRobotsChecker(cfg.Fetch.UserAgent, 10*time.Second)))
	}

	chain := NewChain(scrapers...)
	zap.L().Debug("scrape: fetcher ready", zap.Strings("scrapers", chain.Names()))
	return New(chain, opts...)
}

// Fetch retrieves one URL as plain text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*model.PageContent, error) {
	res, err := f.FetchResult(ctx, url)
	if err != nil {
		return nil, err
	}
	return &res.Page, nil
}

// FetchResult retrieves one URL with its outbound links.
func (f *Fetcher) FetchResult(ctx context.Context, url string) (*Result, error) {
	if f.cache != nil {
		if v, ok := f.cache.Get(url); ok {
			return v.(*Result), nil
		}
	}

	if f.robots != nil && !f.robots.Allowed(ctx, url) {
		return nil, model.NewError(model.ErrPageFetchFailed, "scrape: disallowed by robots.txt: "+url, false)
	}

	res, err := f.chain.Scrape(ctx, url)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		f.cache.SetDefault(url, res)
	}
	return res, nil
}

// FetchAll fetches urls in batches of opts.Concurrency with opts.Delay
// between batches. Every URL gets its own outcome; one failure never stops
// the others.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, opts BatchOptions) map[string]FetchOutcome {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBatchOptions.Concurrency
	}

	var mu sync.Mutex
	out := make(map[string]FetchOutcome, len(urls))

	var pending []string
	for _, u := range urls {
		if _, dup := out[u]; dup {
			continue
		}
		out[u] = FetchOutcome{}
		pending = append(pending, u)
	}

	for start := 0; start < len(pending); start += opts.Concurrency {
		end := min(start+opts.Concurrency, len(pending))

		if err := ctx.Err(); err != nil {
			for _, u := range pending[start:] {
				out[u] = FetchOutcome{Err: err}
			}
			break
		}

		var g errgroup.Group
		for _, u := range pending[start:end] {
			g.Go(func() error {
				page, err := f.Fetch(ctx, u)
				if err != nil {
					zap.L().Debug("scrape: fetch failed", zap.String("url", u), zap.Error(err))
				}
				mu.Lock()
				out[u] = FetchOutcome{Page: page, Err: err}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end < len(pending) && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}
	}

	return out
}
