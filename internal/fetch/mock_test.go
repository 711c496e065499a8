package fetch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/munivars/internal/crawl"
	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
	"github.com/sells-group/munivars/internal/search"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) GenerateJSON(ctx context.Context, prompt string, out any, opts llm.Options) error {
	args := m.Called(ctx, prompt, out, opts)
	return args.Error(0)
}

func (m *mockLLM) Provider() string { return "mock" }

func replyJSON(raw string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		if err := json.Unmarshal([]byte(raw), args.Get(2)); err != nil {
			panic(err)
		}
	}
}

func purpose(p string) any {
	return mock.MatchedBy(func(o llm.Options) bool { return o.Purpose == p })
}

func promptContains(s string) any {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, s) })
}

type fakeCatalog struct {
	services map[string]model.ServiceDefinition
	defs     map[string]model.VariableDefinition
}

func (c *fakeCatalog) Service(id string) (model.ServiceDefinition, bool) {
	s, ok := c.services[id]
	return s, ok
}

func (c *fakeCatalog) Definition(name string) model.VariableDefinition {
	if d, ok := c.defs[name]; ok {
		return d
	}
	return model.VariableDefinition{Name: name, Description: name}
}

// fakeSearcher answers by exact query and records every query it sees.
type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]model.SearchResult
	errs    map[string]error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, _ search.Options) ([]model.SearchResult, error) {
	return f.SearchMunicipality(ctx, "", "", query)
}

func (f *fakeSearcher) SearchMunicipality(_ context.Context, _, _, query string) ([]model.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

type fakePages struct {
	mu      sync.Mutex
	pages   map[string]*model.PageContent
	fetched []string
	batches [][]string
}

func (f *fakePages) FetchAll(ctx context.Context, urls []string, _ scrape.BatchOptions) map[string]scrape.FetchOutcome {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), urls...))
	f.mu.Unlock()

	out := make(map[string]scrape.FetchOutcome, len(urls))
	for _, u := range urls {
		p, err := f.Fetch(ctx, u)
		out[u] = scrape.FetchOutcome{Page: p, Err: err}
	}
	return out
}

func (f *fakePages) Fetch(_ context.Context, url string) (*model.PageContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	p, ok := f.pages[url]
	if !ok {
		return nil, model.NewError(model.ErrPageFetchFailed, "status 404: "+url, false)
	}
	return p, nil
}

type fakeNavigator struct {
	mu     sync.Mutex
	pages  map[string]*crawl.Page
	opened []string
}

func (f *fakeNavigator) Open(_ context.Context, url string) (*crawl.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	p, ok := f.pages[url]
	if !ok {
		return nil, model.NewError(model.ErrPageFetchFailed, "not found: "+url, false)
	}
	return p, nil
}
