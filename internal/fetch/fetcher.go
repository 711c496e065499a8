// Package fetch resolves the variables of one service for one
// municipality: search, snippet and page extraction, confidence fusion,
// deep-search escalation, per-variable searches and missing-variable
// suggestions.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/crawl"
	"github.com/sells-group/munivars/internal/extract"
	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
	"github.com/sells-group/munivars/internal/search"
)

// Catalog is the slice of the service registry the fetcher reads.
type Catalog interface {
	Service(id string) (model.ServiceDefinition, bool)
	Definition(name string) model.VariableDefinition
}

// PageFetcher retrieves pages as plain text, one at a time or in bounded
// batches.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*model.PageContent, error)
	FetchAll(ctx context.Context, urls []string, opts scrape.BatchOptions) map[string]scrape.FetchOutcome
}

// Options bounds the work done per service.
type Options struct {
	MaxPageFetches      int
	MaxVariableSearches int
	MaxRefinedQueries   int
	MaxPDFs             int
	Suggestions         bool
	DeepSearch          bool
	Crawl               crawl.Options
	Batch               scrape.BatchOptions
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxPageFetches:      3,
		MaxVariableSearches: 5,
		MaxRefinedQueries:   2,
		MaxPDFs:             5,
		Suggestions:         true,
		DeepSearch:          true,
		Crawl:               crawl.DefaultOptions(),
		Batch:               scrape.DefaultBatchOptions,
	}
}

// OptionsFromConfig reads the fetch and crawl sections.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	if cfg.Fetch.MaxPageFetches > 0 {
		o.MaxPageFetches = cfg.Fetch.MaxPageFetches
	}
	if cfg.Fetch.MaxVariableSearches > 0 {
		o.MaxVariableSearches = cfg.Fetch.MaxVariableSearches
	}
	o.MaxPDFs = cfg.Fetch.MaxPDFs
	o.MaxRefinedQueries = cfg.Crawl.MaxRefinedQueries
	o.Suggestions = cfg.Fetch.Suggestions
	o.DeepSearch = cfg.Crawl.Enabled
	o.Crawl = crawl.Options{
		MaxPages:        cfg.Crawl.MaxPages,
		MaxLinksPerPage: cfg.Crawl.MaxLinksPerPage,
		Timeout:         config.Seconds(cfg.Crawl.TimeoutSecs, 30*time.Second),
		MinTextRunes:    cfg.Crawl.MinTextLength,
	}
	if cfg.Fetch.Concurrency > 0 {
		o.Batch.Concurrency = cfg.Fetch.Concurrency
	}
	o.Batch.Delay = config.Millis(cfg.Fetch.DelayMS)
	return o
}

// ServiceFetchResult is the outcome of one service fetch. Success is true
// when there were no errors or at least one variable resolved.
type ServiceFetchResult struct {
	ServiceID          string                             `json:"serviceId"`
	Query              string                             `json:"query"`
	Success            bool                               `json:"success"`
	Variables          []model.ExtractedVariable          `json:"variables"`
	Errors             []*model.Error                     `json:"errors"`
	SearchAttempts     map[string][]model.SearchAttempt   `json:"searchAttempts,omitempty"`
	MissingVariables   []string                           `json:"missingVariables"`
	MissingSuggestions map[string]model.MissingSuggestion `json:"missingSuggestions,omitempty"`
	PDFLinks           []string                           `json:"pdfLinks,omitempty"`
}

// ErrorMessages flattens Errors for storage on a draft.
func (r *ServiceFetchResult) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

// Fetcher runs the per-service acquisition flow.
type Fetcher struct {
	catalog  Catalog
	searcher search.Searcher
	pages    PageFetcher
	llm      llm.Client
	engine   *extract.Engine
	crawler  *crawl.Crawler
	budget   *budget.Tracker
	opts     Options
	now      func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCrawler enables deep-search escalation.
func WithCrawler(c *crawl.Crawler) Option {
	return func(f *Fetcher) { f.crawler = c }
}

// WithBudget caps pages per service under free-tier limits.
func WithBudget(t *budget.Tracker) Option {
	return func(f *Fetcher) {
		if t != nil {
			f.budget = t
		}
	}
}

// WithOptions replaces DefaultOptions.
func WithOptions(o Options) Option {
	return func(f *Fetcher) { f.opts = o }
}

// WithEngine overrides the extraction engine built from the LLM client.
func WithEngine(e *extract.Engine) Option {
	return func(f *Fetcher) { f.engine = e }
}

// New creates a Fetcher.
func New(cat Catalog, s search.Searcher, pages PageFetcher, c llm.Client, opts ...Option) *Fetcher {
	f := &Fetcher{
		catalog:  cat,
		searcher: s,
		pages:    pages,
		llm:      c,
		budget:   budget.Unlimited(),
		opts:     DefaultOptions(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(f)
	}
	if f.engine == nil {
		f.engine = extract.New(c)
	}
	return f
}

// FetchServiceVariables resolves every variable of a service.
func (f *Fetcher) FetchServiceVariables(ctx context.Context, muni model.MunicipalityMeta, serviceID string) *ServiceFetchResult {
	svc, ok := f.catalog.Service(serviceID)
	if !ok {
		return unknownService(serviceID)
	}
	defs := make([]model.VariableDefinition, 0, len(svc.Variables))
	for _, name := range svc.Variables {
		defs = append(defs, f.catalog.Definition(name))
	}
	return f.fetch(ctx, muni, svc, defs)
}

// FetchSpecificVariables re-runs the service flow for a subset of its
// variables. Names the service does not own are ignored.
func (f *Fetcher) FetchSpecificVariables(ctx context.Context, muni model.MunicipalityMeta, serviceID string, names []string) *ServiceFetchResult {
	svc, ok := f.catalog.Service(serviceID)
	if !ok {
		return unknownService(serviceID)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var defs []model.VariableDefinition
	for _, name := range svc.Variables {
		if want[name] {
			defs = append(defs, f.catalog.Definition(name))
			delete(want, name)
		}
	}
	for n := range want {
		zap.L().Warn("fetch: variable not in service", zap.String("service", serviceID), zap.String("variable", n))
	}
	if len(defs) == 0 {
		res := &ServiceFetchResult{ServiceID: serviceID}
		res.Errors = append(res.Errors, model.NewError(model.ErrExtractionFailed,
			fmt.Sprintf("no requested variable belongs to service %s", serviceID), false))
		return res
	}
	return f.fetch(ctx, muni, svc, defs)
}

func unknownService(id string) *ServiceFetchResult {
	return &ServiceFetchResult{
		ServiceID: id,
		Errors:    []*model.Error{model.NewError(model.ErrExtractionFailed, "unknown service: "+id, false)},
	}
}

func (f *Fetcher) fetch(ctx context.Context, muni model.MunicipalityMeta, svc model.ServiceDefinition, defs []model.VariableDefinition) *ServiceFetchResult {
	start := time.Now()
	r := newRun(f, muni, svc, defs)

	r.query = f.generateQuery(ctx, muni, svc, defs)
	log := zap.L().With(
		zap.String("municipality", muni.ID),
		zap.String("service", svc.ID),
	)
	log.Info("fetch: searching", zap.String("query", r.query))

	results, err := f.searcher.SearchMunicipality(ctx, muni.Name, muni.OfficialURL, r.query)
	if err != nil || len(results) == 0 {
		if err != nil {
			r.addError(searchError(err))
		} else {
			r.addError(model.NewError(model.ErrSearchFailed, "no search results for "+svc.Name, true))
		}
		r.recordAttempt(r.names(), r.query, nil, model.ReasonNotFound)
		log.Warn("fetch: search returned nothing", zap.Error(err))
		return r.finish()
	}
	r.results = results
	for _, res := range results {
		r.addPDF(res.URL)
	}

	needs := r.snippetPass(ctx)
	r.pagePass(ctx, needs)
	r.fuseAll()

	if f.opts.DeepSearch && f.crawler != nil {
		r.deepSearch(ctx)
	}
	r.pdfPass(ctx)
	r.variableSearches(ctx)

	for _, name := range r.missing() {
		if len(r.attempts[name]) == 0 {
			r.recordAttempt([]string{name}, r.query, r.results, model.ReasonNoMatch)
		}
	}
	for _, name := range r.vague() {
		if len(r.attempts[name]) == 0 {
			r.recordAttempt([]string{name}, r.query, r.results, model.ReasonLowConfidence)
		}
	}
	if f.opts.Suggestions {
		r.suggest(ctx)
	}

	res := r.finish()
	log.Info("fetch: service done",
		zap.Int("resolved", len(res.Variables)),
		zap.Int("missing", len(res.MissingVariables)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

// searchError keeps classified errors (rate limits) and marks the rest as
// retryable search failures.
func searchError(err error) *model.Error {
	var e *model.Error
	if errors.As(err, &e) {
		return e
	}
	return model.WrapError(model.ErrSearchFailed, err, true)
}
