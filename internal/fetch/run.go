package fetch

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/crawl"
	"github.com/sells-group/munivars/internal/extract"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
	"github.com/sells-group/munivars/internal/search"
	"github.com/sells-group/munivars/internal/validate"
)

const (
	attemptURLs       = 5
	attemptSnippets   = 3
	pagesPerVarSearch = 3
	defaultCrawlPages = 3
)

// run is the working state of one service fetch. It is owned by a single
// goroutine.
type run struct {
	f           *Fetcher
	muni        model.MunicipalityMeta
	svc         model.ServiceDefinition
	defs        []model.VariableDefinition
	byName      map[string]model.VariableDefinition
	values      map[string]*model.ExtractedVariable
	fused       map[string]bool
	attempts    map[string][]model.SearchAttempt
	suggestions map[string]model.MissingSuggestion
	pdfs        []string
	pdfSeen     map[string]bool
	errors      []*model.Error
	query       string
	results     []model.SearchResult
	visited     []string
	// halted is set after a RATE_LIMITED error; later passes are skipped.
	halted      bool
}

func newRun(f *Fetcher, muni model.MunicipalityMeta, svc model.ServiceDefinition, defs []model.VariableDefinition) *run {
	r := &run{
		f:        f,
		muni:     muni,
		svc:      svc,
		defs:     defs,
		byName:   make(map[string]model.VariableDefinition, len(defs)),
		values:   make(map[string]*model.ExtractedVariable, len(defs)),
		fused:    make(map[string]bool),
		attempts: make(map[string][]model.SearchAttempt),
		pdfSeen:  make(map[string]bool),
	}
	for _, d := range defs {
		r.byName[d.Name] = d
	}
	return r
}

func (r *run) names() []string {
	out := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Name)
	}
	return out
}

func (r *run) defsFor(names []string) []model.VariableDefinition {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make([]model.VariableDefinition, 0, len(names))
	for _, d := range r.defs {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func (r *run) resolved(name string) bool {
	v := r.values[name]
	return v != nil && v.HasValue()
}

func (r *run) concrete(name string) bool {
	v := r.values[name]
	return v != nil && validate.IsConcrete(name, v.Value)
}

// missing lists unresolved names in definition order.
func (r *run) missing() []string {
	var out []string
	for _, d := range r.defs {
		if !r.resolved(d.Name) {
			out = append(out, d.Name)
		}
	}
	return out
}

// vague lists names that hold a value too hedged to publish.
func (r *run) vague() []string {
	var out []string
	for _, d := range r.defs {
		if r.resolved(d.Name) && !r.concrete(d.Name) {
			out = append(out, d.Name)
		}
	}
	return out
}

// needsWork lists names that are unresolved or hold a vague value.
func (r *run) needsWork() []string {
	var out []string
	for _, d := range r.defs {
		if !r.concrete(d.Name) {
			out = append(out, d.Name)
		}
	}
	return out
}

func (r *run) set(ev model.ExtractedVariable, fused bool) {
	v := ev
	r.values[v.VariableName] = &v
	r.fused[v.VariableName] = fused
}

func (r *run) stopped(ctx context.Context) bool {
	return r.halted || ctx.Err() != nil
}

func (r *run) addError(e *model.Error) {
	r.errors = append(r.errors, e)
	if e.Code == model.ErrRateLimited {
		r.halted = true
	}
}

func (r *run) addPDF(url string) {
	if !scrape.IsPDFURL(url) || r.pdfSeen[url] {
		return
	}
	r.pdfSeen[url] = true
	r.pdfs = append(r.pdfs, url)
}

func (r *run) recordAttempt(names []string, query string, results []model.SearchResult, reason model.AttemptReason) {
	a := model.SearchAttempt{
		Query:        query,
		SearchedAt:   r.f.now(),
		ResultsCount: len(results),
		Reason:       reason,
	}
	for i, res := range results {
		if i < attemptURLs {
			a.URLs = append(a.URLs, res.URL)
		}
		if i < attemptSnippets {
			a.Snippets = append(a.Snippets, res.Snippet)
		}
	}
	for _, n := range names {
		r.attempts[n] = append(r.attempts[n], a)
	}
}

// snippetPass extracts from the search results and returns the names the
// model wants page context for.
func (r *run) snippetPass(ctx context.Context) []string {
	ext, err := r.f.engine.FromSnippets(ctx, r.results, r.defs)
	if err != nil {
		zap.L().Warn("fetch: snippet extraction failed", zap.String("service", r.svc.ID), zap.Error(err))
		r.addError(extractionError(err))
		return r.names()
	}
	for _, ev := range ext.Variables {
		if _, ok := r.byName[ev.VariableName]; ok && ev.HasValue() {
			r.set(ev, false)
		}
	}
	return ext.NeedsPageFetch
}

// pagePass reads up to MaxPageFetches official result pages for the names
// the snippet pass could not settle. Names resolved by snippets are skipped.
func (r *run) pagePass(ctx context.Context, needs []string) {
	var pending []string
	for _, n := range needs {
		if _, ok := r.byName[n]; ok && !r.resolved(n) {
			pending = append(pending, n)
		}
	}
	if len(pending) == 0 {
		return
	}

	limit := r.f.budget.PagesPerService(r.f.opts.MaxPageFetches)
	var urls []string
	for _, res := range r.results {
		if len(urls) >= limit {
			break
		}
		if scrape.IsUsefulURL(res.URL) && search.IsOfficialDomain(res.URL) {
			urls = append(urls, res.URL)
		}
	}

	if len(urls) == 0 || r.stopped(ctx) {
		return
	}
	outcomes := r.f.pages.FetchAll(ctx, urls, r.f.opts.Batch)

	for _, u := range urls {
		if len(pending) == 0 || r.stopped(ctx) {
			break
		}
		out := outcomes[u]
		if out.Err != nil {
			zap.L().Warn("fetch: page failed", zap.String("url", u), zap.Error(out.Err))
			r.addError(pageError(u, out.Err))
			continue
		}
		if out.Page == nil {
			continue
		}
		extracted, err := r.f.engine.FromPage(ctx, *out.Page, r.defsFor(pending))
		if err != nil {
			zap.L().Warn("fetch: page extraction failed", zap.String("url", u), zap.Error(err))
			r.addError(extractionError(err))
			continue
		}
		for _, ev := range extracted {
			if extract.PreferValue(r.values[ev.VariableName], ev) {
				r.set(ev, false)
			}
		}
		next := pending[:0]
		for _, n := range pending {
			if !r.concrete(n) {
				next = append(next, n)
			}
		}
		pending = next
	}
}

// fuse re-scores a value as the mean of its extraction confidence, the
// source credibility and the validation-adjusted confidence. Valid values
// are normalized; invalid ones keep their text and carry the error.
func (r *run) fuse(ev *model.ExtractedVariable) {
	if !ev.HasValue() {
		return
	}
	vr := validate.Variable(r.byName[ev.VariableName], *ev.Value)
	c := ev.Confidence
	ev.Confidence = min((c+search.URLCredibility(ev.SourceURL)+validate.AdjustConfidence(c, vr.Valid))/3, 1.0)
	if vr.Valid {
		ev.Value = model.StrPtr(vr.Normalized)
		ev.Validated = true
		ev.ValidationError = ""
		return
	}
	ev.Validated = false
	ev.ValidationError = vr.Error
}

func (r *run) fuseAll() {
	for name, v := range r.values {
		if r.fused[name] || !v.HasValue() {
			continue
		}
		r.fuse(v)
		r.fused[name] = true
	}
}

// deepSearch crawls from the top result for unresolved or vague names,
// then spends up to MaxRefinedQueries suggested queries on what is left.
// Refined values never displace a concrete one.
func (r *run) deepSearch(ctx context.Context) {
	targets := r.needsWork()
	if len(targets) == 0 || r.stopped(ctx) {
		return
	}

	opts := r.f.opts.Crawl
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultCrawlPages
	}
	opts.MaxPages = r.f.budget.PagesPerService(opts.MaxPages)
	opts.OfficialURL = r.muni.OfficialURL

	cr := r.f.crawler.Crawl(ctx, r.results[0].URL, r.defsFor(targets), opts)
	for _, name := range targets {
		if v, ok := cr.Found[name]; ok {
			r.set(v, true)
		}
	}
	for _, p := range cr.PDFLinks {
		r.addPDF(p)
	}
	r.visited = cr.VisitedURLs
	zap.L().Debug("fetch: crawl done",
		zap.String("service", r.svc.ID),
		zap.Int("pages", cr.PagesVisited),
		zap.Int("found", len(cr.Found)),
	)

	if r.f.opts.MaxRefinedQueries <= 0 || r.stopped(ctx) {
		return
	}
	still := r.needsWork()
	if len(still) == 0 {
		return
	}
	vague := make(map[string]string)
	for _, n := range still {
		if r.resolved(n) {
			vague[n] = r.values[n].StringValue()
		}
	}

	queries := r.f.crawler.SuggestRefinedQueries(ctx, crawl.RefineRequest{
		Municipality:  r.muni.Name,
		Service:       r.svc.Name,
		OriginalQuery: r.query,
		Pending:       r.defsFor(still),
		VagueValues:   vague,
		VisitedURLs:   r.visited,
	})
	for i, q := range queries {
		if i >= r.f.opts.MaxRefinedQueries || r.stopped(ctx) {
			break
		}
		var names []string
		for _, n := range q.TargetVariables {
			if !r.concrete(n) {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			continue
		}
		for _, ev := range r.f.crawler.RefinedSearch(ctx, q, r.muni, r.defsFor(names)) {
			if r.concrete(ev.VariableName) {
				continue
			}
			r.set(ev, true)
		}
	}
}

// pdfPass reads collected PDF leads for names still unresolved.
func (r *run) pdfPass(ctx context.Context) {
	missing := r.missing()
	if len(missing) == 0 || len(r.pdfs) == 0 {
		return
	}
	leads := r.pdfs
	if len(leads) > r.f.opts.MaxPDFs {
		leads = leads[:max(r.f.opts.MaxPDFs, 0)]
	}
	if len(leads) == 0 || r.stopped(ctx) {
		return
	}
	outcomes := r.f.pages.FetchAll(ctx, leads, r.f.opts.Batch)

	for _, u := range leads {
		if len(missing) == 0 || r.stopped(ctx) {
			break
		}
		out := outcomes[u]
		if out.Err != nil || out.Page == nil {
			zap.L().Debug("fetch: pdf failed", zap.String("url", u), zap.Error(out.Err))
			continue
		}
		extracted, err := r.f.engine.FromPage(ctx, *out.Page, r.defsFor(missing))
		if err != nil {
			if model.CodeOf(err) == model.ErrRateLimited {
				r.addError(extractionError(err))
			}
			continue
		}
		for _, ev := range extracted {
			if r.resolved(ev.VariableName) || !ev.HasValue() || !validate.IsConcreteValue(ev.VariableName, *ev.Value) {
				continue
			}
			r.fuse(&ev)
			r.set(ev, true)
			zap.L().Info("fetch: resolved from pdf", zap.String("variable", ev.VariableName), zap.String("url", u))
		}
		missing = r.missing()
	}
}

// variableSearches runs one dedicated search per unresolved name, up to
// MaxVariableSearches, and records an attempt for each one that stays
// unresolved or resolves only to an invalid value.
func (r *run) variableSearches(ctx context.Context) {
	for i, name := range r.missing() {
		if i >= r.f.opts.MaxVariableSearches || r.stopped(ctx) {
			break
		}
		def := r.byName[name]
		q := r.muni.Name + " " + describe(def)

		results, err := r.f.searcher.SearchMunicipality(ctx, r.muni.Name, r.muni.OfficialURL, q)
		if err != nil {
			zap.L().Warn("fetch: variable search failed", zap.String("variable", name), zap.Error(err))
			if model.CodeOf(err) == model.ErrRateLimited {
				r.addError(searchError(err))
			}
			r.recordAttempt([]string{name}, q, nil, model.ReasonNotFound)
			continue
		}
		if len(results) == 0 {
			r.recordAttempt([]string{name}, q, nil, model.ReasonNotFound)
			continue
		}
		for _, res := range results {
			r.addPDF(res.URL)
		}

		reason, ok := r.searchVariablePages(ctx, def, results)
		if !ok || reason == model.ReasonValidationFailed {
			r.recordAttempt([]string{name}, q, results, reason)
		}
	}
}

// searchVariablePages reads up to three useful result pages for one
// variable, fetched as one batch. A concrete valid value wins immediately;
// a concrete invalid one is kept only when nothing better turns up.
func (r *run) searchVariablePages(ctx context.Context, def model.VariableDefinition, results []model.SearchResult) (model.AttemptReason, bool) {
	reason := model.ReasonNoMatch
	var fallback *model.ExtractedVariable
	var urls []string
	for _, res := range results {
		if len(urls) >= pagesPerVarSearch {
			break
		}
		if scrape.IsUsefulURL(res.URL) {
			urls = append(urls, res.URL)
		}
	}
	if len(urls) == 0 || r.stopped(ctx) {
		return reason, false
	}
	outcomes := r.f.pages.FetchAll(ctx, urls, r.f.opts.Batch)

	for _, u := range urls {
		if r.stopped(ctx) {
			break
		}
		out := outcomes[u]
		if out.Err != nil || out.Page == nil {
			zap.L().Debug("fetch: variable page failed", zap.String("url", u), zap.Error(out.Err))
			continue
		}
		extracted, err := r.f.engine.FromPage(ctx, *out.Page, []model.VariableDefinition{def})
		if err != nil {
			if model.CodeOf(err) == model.ErrRateLimited {
				r.addError(extractionError(err))
			}
			continue
		}
		for _, ev := range extracted {
			if ev.VariableName != def.Name || !ev.HasValue() {
				continue
			}
			if !validate.IsConcreteValue(def.Name, *ev.Value) {
				if fallback == nil {
					reason = model.ReasonLowConfidence
				}
				continue
			}
			r.fuse(&ev)
			if ev.Validated {
				r.set(ev, true)
				return "", true
			}
			if fallback == nil {
				v := ev
				fallback = &v
				reason = model.ReasonValidationFailed
			}
		}
	}
	if fallback != nil {
		r.set(*fallback, true)
		return reason, true
	}
	return reason, false
}

func (r *run) finish() *ServiceFetchResult {
	res := &ServiceFetchResult{
		ServiceID:        r.svc.ID,
		Query:            r.query,
		Errors:           r.errors,
		MissingVariables: []string{},
		PDFLinks:         r.pdfs,
	}
	for _, d := range r.defs {
		if r.resolved(d.Name) {
			res.Variables = append(res.Variables, *r.values[d.Name])
		} else {
			res.MissingVariables = append(res.MissingVariables, d.Name)
		}
	}
	if len(r.attempts) > 0 {
		res.SearchAttempts = r.attempts
	}
	if len(r.suggestions) > 0 {
		res.MissingSuggestions = r.suggestions
	}
	res.Success = len(res.Errors) == 0 || len(res.Variables) > 0
	return res
}

func describe(def model.VariableDefinition) string {
	if def.Description != "" {
		return def.Description
	}
	return def.Name
}

func extractionError(err error) *model.Error {
	var e *model.Error
	if errors.As(err, &e) {
		return e
	}
	return model.WrapError(model.ErrExtractionFailed, err, true)
}

func pageError(url string, err error) *model.Error {
	var e *model.Error
	if errors.As(err, &e) {
		return e
	}
	return model.WrapError(model.ErrPageFetchFailed, eris.Wrapf(err, "fetch %s", url), true)
}
