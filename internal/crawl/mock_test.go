package crawl

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
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

// fakeNavigator serves pages from a map and records every Open.
type fakeNavigator struct {
	mu     sync.Mutex
	pages  map[string]*Page
	opened []string
}

func (f *fakeNavigator) Open(_ context.Context, url string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	p, ok := f.pages[url]
	if !ok {
		return nil, model.NewError(model.ErrPageFetchFailed, "not found: "+url, false)
	}
	return p, nil
}

type fakeSearcher struct {
	results []model.SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ search.Options) ([]model.SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func (f *fakeSearcher) SearchMunicipality(_ context.Context, _, _, query string) ([]model.SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}
