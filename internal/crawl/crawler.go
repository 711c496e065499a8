// Package crawl follows links from a seed page to resolve variables the
// first search pass left missing or vague, and proposes refined queries
// when following links is not enough.
package crawl

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/extract"
	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/search"
	"github.com/sells-group/munivars/internal/validate"
)

// Options bounds one crawl.
type Options struct {
	MaxPages        int
	MaxLinksPerPage int
	// Timeout applies to each page load.
	Timeout time.Duration
	// MinTextRunes is the shortest page text worth an extraction call.
	MinTextRunes int
	// OfficialURL widens the official-domain filter to the municipality's
	// own host.
	OfficialURL string
}

// DefaultOptions visits at most three pages, enqueuing five links per page.
func DefaultOptions() Options {
	return Options{MaxPages: 3, MaxLinksPerPage: 5, Timeout: 30 * time.Second, MinTextRunes: 100}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxPages <= 0 {
		o.MaxPages = d.MaxPages
	}
	if o.MaxLinksPerPage <= 0 {
		o.MaxLinksPerPage = d.MaxLinksPerPage
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MinTextRunes <= 0 {
		o.MinTextRunes = d.MinTextRunes
	}
	return o
}

// Result is the outcome of one crawl.
type Result struct {
	Found        map[string]model.ExtractedVariable
	Pending      []string
	VisitedURLs  []string
	PDFLinks     []string
	PagesVisited int
}

// Crawler runs bounded breadth-first crawls and refined searches.
type Crawler struct {
	nav      Navigator
	engine   *extract.Engine
	llm      llm.Client
	searcher search.Searcher

	// pageTimeout bounds each page load of a refined search.
	pageTimeout time.Duration
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithPageTimeout bounds each page load made outside Crawl. Zero keeps the
// default.
func WithPageTimeout(d time.Duration) CrawlerOption {
	return func(c *Crawler) {
		if d > 0 {
			c.pageTimeout = d
		}
	}
}

// New creates a Crawler.
func New(nav Navigator, engine *extract.Engine, c llm.Client, s search.Searcher, opts ...CrawlerOption) *Crawler {
	cr := &Crawler{nav: nav, engine: engine, llm: c, searcher: s, pageTimeout: DefaultOptions().Timeout}
	for _, o := range opts {
		o(cr)
	}
	return cr
}

// Crawl visits pages breadth-first from startURL until every target is
// resolved, the queue empties or MaxPages pages have been visited. A value
// is accepted only when it is concrete and passes validation; accepted
// values are normalized and their confidence raised by 0.2.
func (c *Crawler) Crawl(ctx context.Context, startURL string, targets []model.VariableDefinition, opts Options) *Result {
	opts = opts.withDefaults()

	res := &Result{Found: make(map[string]model.ExtractedVariable)}
	pending := make(map[string]model.VariableDefinition, len(targets))
	order := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, dup := pending[t.Name]; dup {
			continue
		}
		pending[t.Name] = t
		order = append(order, t.Name)
	}

	visited := make(map[string]bool)
	queued := map[string]bool{startURL: true}
	pdfSeen := make(map[string]bool)
	queue := []string{startURL}

	for len(queue) > 0 && res.PagesVisited < opts.MaxPages && len(pending) > 0 {
		if ctx.Err() != nil {
			break
		}
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		res.VisitedURLs = append(res.VisitedURLs, current)
		res.PagesVisited++

		zap.L().Debug("crawl: visiting",
			zap.String("url", current),
			zap.Int("page", res.PagesVisited),
			zap.Int("max_pages", opts.MaxPages),
		)

		page, err := c.open(ctx, current, opts.Timeout)
		if err != nil {
			zap.L().Warn("crawl: page failed", zap.String("url", current), zap.Error(err))
			continue
		}
		if utf8.RuneCountInString(page.Text) < opts.MinTextRunes {
			zap.L().Debug("crawl: page too thin", zap.String("url", current))
			continue
		}

		defs := pendingDefs(order, pending)
		extracted, err := c.engine.FromPage(ctx, model.PageContent{URL: current, Title: page.Title, Text: page.Text}, defs)
		if err != nil {
			zap.L().Warn("crawl: extraction failed", zap.String("url", current), zap.Error(err))
		}
		for _, ev := range extracted {
			def, ok := pending[ev.VariableName]
			if !ok || !ev.HasValue() || !validate.IsConcreteValue(ev.VariableName, *ev.Value) {
				continue
			}
			vr := validate.Variable(def, *ev.Value)
			if !vr.Valid {
				continue
			}
			ev.Value = model.StrPtr(vr.Normalized)
			ev.Confidence = min(ev.Confidence+0.2, 1.0)
			ev.Validated = true
			res.Found[ev.VariableName] = ev
			delete(pending, ev.VariableName)
			zap.L().Info("crawl: found", zap.String("variable", ev.VariableName), zap.String("url", current))
		}

		if len(pending) == 0 || res.PagesVisited >= opts.MaxPages {
			continue
		}

		crawlable, pdfs := partitionLinks(page.Links, opts.OfficialURL)
		for _, p := range pdfs {
			if !pdfSeen[p] {
				pdfSeen[p] = true
				res.PDFLinks = append(res.PDFLinks, p)
			}
		}

		var fresh []model.Link
		for _, l := range crawlable {
			if !visited[l.URL] && !queued[l.URL] {
				fresh = append(fresh, l)
			}
		}
		for _, rl := range rankLinks(ctx, c.llm, fresh, pendingDefs(order, pending), opts.MaxLinksPerPage) {
			if visited[rl.URL] || queued[rl.URL] {
				continue
			}
			queued[rl.URL] = true
			queue = append(queue, rl.URL)
			zap.L().Debug("crawl: queued", zap.String("url", rl.URL), zap.Float64("score", rl.Score))
		}
	}

	res.Pending = make([]string, 0, len(pending))
	for _, name := range order {
		if _, ok := pending[name]; ok {
			res.Pending = append(res.Pending, name)
		}
	}
	return res
}

func (c *Crawler) open(ctx context.Context, url string, timeout time.Duration) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.nav.Open(ctx, url)
}

func pendingDefs(order []string, pending map[string]model.VariableDefinition) []model.VariableDefinition {
	out := make([]model.VariableDefinition, 0, len(pending))
	for _, name := range order {
		if d, ok := pending[name]; ok {
			out = append(out, d)
		}
	}
	return out
}
