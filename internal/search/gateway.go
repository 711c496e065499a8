// Package search is the uniform search interface over the Brave and Google
// Custom Search backends, with a single fallback.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/resilience"
	"github.com/sells-group/munivars/pkg/brave"
	"github.com/sells-group/munivars/pkg/google"
)

// ErrNotConfigured is returned when no search backend has credentials.
var ErrNotConfigured = eris.New("search: no backend configured")

const defaultCount = 5

// Searcher is what the fetch and crawl layers depend on.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]model.SearchResult, error)
	SearchMunicipality(ctx context.Context, name, officialURL, query string) ([]model.SearchResult, error)
}

// Gateway runs searches against a primary backend and, on error or zero
// results, once against a fallback.
type Gateway struct {
	primary  Backend
	fallback Backend
	breakers *resilience.Breakers
	retries  int
	count    int
	cache    *gocache.Cache
	budget   *budget.Tracker
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithFallback sets the fallback backend. Ignored when it has the same name
// as the primary.
func WithFallback(b Backend) Option {
	return func(g *Gateway) { g.fallback = b }
}

// WithRetries sets retries per backend call (attempts beyond the first).
func WithRetries(n int) Option {
	return func(g *Gateway) { g.retries = n }
}

// WithCacheTTL enables result memoisation. Zero disables it.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		if ttl > 0 {
			g.cache = gocache.New(ttl, 2*ttl)
		} else {
			g.cache = nil
		}
	}
}

// WithBudget records every backend call against t.
func WithBudget(t *budget.Tracker) Option {
	return func(g *Gateway) { g.budget = t }
}

// WithBreakers shares breaker state with other components.
func WithBreakers(b *resilience.Breakers) Option {
	return func(g *Gateway) { g.breakers = b }
}

// WithDefaultCount sets the result count when Options.Count is zero.
func WithDefaultCount(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.count = n
		}
	}
}

// New creates a gateway over primary.
func New(primary Backend, opts ...Option) (*Gateway, error) {
	if primary == nil {
		return nil, ErrNotConfigured
	}
	g := &Gateway{
		primary:  primary,
		breakers: resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		retries:  2,
		count:    defaultCount,
		budget:   budget.Unlimited(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.fallback != nil && g.fallback.Name() == g.primary.Name() {
		g.fallback = nil
	}
	return g, nil
}

// NewFromConfig builds the backends named by cfg. Provider "auto" prefers
// Google when key and cx are set, else Brave; fallback "auto" picks the other
// configured backend, "none" disables it.
func NewFromConfig(cfg config.SearchConfig, opts ...Option) (*Gateway, error) {
	timeout := config.Seconds(cfg.TimeoutSecs, 15*time.Second)

	available := map[string]Backend{}
	if cfg.Brave.Key != "" {
		bopts := []brave.Option{brave.WithTimeout(timeout)}
		if cfg.Brave.BaseURL != "" {
			bopts = append(bopts, brave.WithBaseURL(cfg.Brave.BaseURL))
		}
		available[BackendBrave] = NewBraveBackend(brave.NewClient(cfg.Brave.Key, bopts...))
	}
	if cfg.Google.Key != "" && cfg.Google.CX != "" {
		gopts := []google.Option{google.WithHTTPClient(&http.Client{Timeout: timeout})}
		if cfg.Google.BaseURL != "" {
			gopts = append(gopts, google.WithBaseURL(cfg.Google.BaseURL))
		}
		available[BackendGoogle] = NewGoogleBackend(google.NewClient(cfg.Google.Key, cfg.Google.CX, gopts...))
	}

	primaryName, fallbackName := SelectBackends(cfg.Provider, cfg.Fallback, available)
	primary := available[primaryName]
	if primary == nil {
		return nil, eris.Wrapf(ErrNotConfigured, "provider %q", cfg.Provider)
	}

	base := []Option{
		WithRetries(cfg.Retries),
		WithDefaultCount(cfg.Count),
		WithCacheTTL(time.Duration(cfg.CacheTTLMins) * time.Minute),
	}
	if fb := available[fallbackName]; fb != nil {
		base = append(base, WithFallback(fb))
	}

	zap.L().Info("search: backends selected",
		zap.String("primary", primaryName),
		zap.String("fallback", fallbackName),
	)
	return New(primary, append(base, opts...)...)
}

// SelectBackends resolves provider/fallback settings against the set of
// configured backends. Empty names mean none.
func SelectBackends(provider, fallback string, available map[string]Backend) (string, string) {
	has := func(name string) bool { _, ok := available[name]; return ok }

	primary := ""
	switch provider {
	case BackendBrave, BackendGoogle:
		if has(provider) {
			primary = provider
		}
	default:
		if has(BackendGoogle) {
			primary = BackendGoogle
		} else if has(BackendBrave) {
			primary = BackendBrave
		}
	}
	if primary == "" {
		return "", ""
	}

	other := BackendBrave
	if primary == BackendBrave {
		other = BackendGoogle
	}

	secondary := ""
	switch fallback {
	case "none", "":
	case BackendBrave, BackendGoogle:
		if fallback != primary && has(fallback) {
			secondary = fallback
		}
	default:
		if has(other) {
			secondary = other
		}
	}
	return primary, secondary
}

// Backends returns the names of the primary and fallback backends.
func (g *Gateway) Backends() (string, string) {
	fb := ""
	if g.fallback != nil {
		fb = g.fallback.Name()
	}
	return g.primary.Name(), fb
}

// Search runs query on the primary backend. The fallback runs once when the
// primary fails or returns nothing; its error, if any, is returned.
func (g *Gateway) Search(ctx context.Context, query string, opts Options) ([]model.SearchResult, error) {
	if opts.Count <= 0 {
		opts.Count = g.count
	}

	key := cacheKey(query, opts)
	if g.cache != nil {
		if cached, ok := g.cache.Get(key); ok {
			zap.L().Debug("search: cache hit", zap.String("query", query))
			return cached.([]model.SearchResult), nil
		}
	}

	results, err := g.execute(ctx, g.primary, query, opts)
	if (err != nil || len(results) == 0) && g.fallback != nil {
		zap.L().Info("search: falling back",
			zap.String("primary", g.primary.Name()),
			zap.String("fallback", g.fallback.Name()),
			zap.Int("primary_results", len(results)),
			zap.Error(err),
		)
		results, err = g.execute(ctx, g.fallback, query, opts)
	}
	if err != nil {
		return nil, err
	}

	if g.cache != nil && len(results) > 0 {
		g.cache.SetDefault(key, results)
	}
	return results, nil
}

// SearchMunicipality restricts query to the municipality's official host
// when known, otherwise scopes it to government domains by name.
func (g *Gateway) SearchMunicipality(ctx context.Context, name, officialURL, query string) ([]model.SearchResult, error) {
	if host := hostOf(officialURL); host != "" {
		return g.Search(ctx, query, Options{SiteRestrict: host})
	}
	return g.Search(ctx, fmt.Sprintf("%s %s (site:lg.jp OR site:go.jp)", name, query), Options{})
}

// execute is the single call path for every backend request: budget check,
// breaker, retry.
func (g *Gateway) execute(ctx context.Context, b Backend, query string, opts Options) ([]model.SearchResult, error) {
	cb := g.breakers.Get(b.Name())
	rc := resilience.ForBackend(b.Name(), "search", g.retries)

	if err := g.budget.UseSearch(b.Name()); err != nil {
		return nil, err
	}
	results, err := resilience.DoVal(ctx, rc, func(ctx context.Context) ([]model.SearchResult, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) ([]model.SearchResult, error) {
			return b.Search(ctx, query, opts)
		})
	})
	if err != nil {
		return nil, toSearchError(b.Name(), err)
	}

	zap.L().Debug("search: results",
		zap.String("backend", b.Name()),
		zap.String("query", query),
		zap.Int("count", len(results)),
	)
	return results, nil
}

// toSearchError keeps classified errors as they are and wraps the rest as
// SEARCH_FAILED.
func toSearchError(backend string, err error) error {
	if model.CodeOf(err) != "" {
		return err
	}
	e := model.WrapError(model.ErrSearchFailed, eris.Wrapf(err, "search: %s", backend), resilience.IsTransient(err))
	e.StatusCode = resilience.StatusCode(err)
	return e
}

func cacheKey(query string, opts Options) string {
	return strings.Join([]string{query, opts.SiteRestrict, fmt.Sprint(opts.Count)}, "\x00")
}
