// Package budget tracks external API usage for a pipeline run and enforces
// free-tier quotas on search and LLM calls.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/munivars/internal/model"
)

// Kinds of metered calls.
const (
	KindSearch = "search"
	KindLLM    = "llm"
)

// Usage is a snapshot of the counters.
type Usage struct {
	SearchCalls int `json:"searchCalls"`
	LLMCalls    int `json:"llmCalls"`
	Rejections  int `json:"rejections"`
}

// Tracker counts search and LLM calls. When enforced, the search and daily
// LLM caps reject further calls with RATE_LIMITED and the per-minute LLM cap
// paces callers through a token bucket.
type Tracker struct {
	mu       sync.Mutex
	limits   model.FreeTierLimits
	enforced bool
	usage    Usage
	perMin   *rate.Limiter
	metrics  *Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics exports counters to Prometheus.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates a tracker. An unenforced tracker only counts.
func New(limits model.FreeTierLimits, enforced bool, opts ...Option) *Tracker {
	t := &Tracker{
		limits:   limits,
		enforced: enforced,
	}
	for _, o := range opts {
		o(t)
	}
	if enforced && limits.LLMPerMinute > 0 {
		t.perMin = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limits.LLMPerMinute)), limits.LLMPerMinute)
	}
	t.metrics.setRemaining(t.remainingLocked())
	return t
}

// Unlimited returns a tracker that never rejects.
func Unlimited() *Tracker {
	return New(model.FreeTierLimits{}, false)
}

// Enforced reports whether limits apply.
func (t *Tracker) Enforced() bool { return t.enforced }

// Limits returns the configured quotas.
func (t *Tracker) Limits() model.FreeTierLimits { return t.limits }

// UseSearch records one search backend call, or rejects it when the search
// quota is spent.
func (t *Tracker) UseSearch(backend string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enforced && t.limits.SearchQueries > 0 && t.usage.SearchCalls >= t.limits.SearchQueries {
		return t.rejectLocked(KindSearch, fmt.Sprintf("search quota of %d calls exhausted", t.limits.SearchQueries))
	}
	t.usage.SearchCalls++
	t.metrics.observeCall(KindSearch, backend)
	t.metrics.setRemaining(t.remainingLocked())
	return nil
}

// UseLLM records one LLM call. The daily cap rejects; the per-minute cap
// blocks until a token is available or ctx ends.
func (t *Tracker) UseLLM(ctx context.Context, provider string) error {
	t.mu.Lock()
	if t.enforced && t.limits.LLMPerDay > 0 && t.usage.LLMCalls >= t.limits.LLMPerDay {
		err := t.rejectLocked(KindLLM, fmt.Sprintf("LLM daily quota of %d calls exhausted", t.limits.LLMPerDay))
		t.mu.Unlock()
		return err
	}
	t.usage.LLMCalls++
	t.metrics.observeCall(KindLLM, provider)
	t.metrics.setRemaining(t.remainingLocked())
	limiter := t.perMin
	t.mu.Unlock()

	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return model.WrapError(model.ErrRateLimited, err, false)
	}
	return nil
}

// Exhausted reports whether a quota that would stop the next service is
// spent, and which one.
func (t *Tracker) Exhausted() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enforced {
		return false, ""
	}
	if t.limits.SearchQueries > 0 && t.usage.SearchCalls >= t.limits.SearchQueries {
		return true, KindSearch
	}
	if t.limits.LLMPerDay > 0 && t.usage.LLMCalls >= t.limits.LLMPerDay {
		return true, KindLLM
	}
	return false, ""
}

// MaxServices caps the number of services fetched in one run, assuming one
// search per service. Zero means no cap.
func (t *Tracker) MaxServices() int {
	if !t.enforced {
		return 0
	}
	return t.limits.SearchQueries
}

// PagesPerService returns the per-service page budget, or def when unenforced.
func (t *Tracker) PagesPerService(def int) int {
	if !t.enforced || t.limits.MaxPagesPerService <= 0 {
		return def
	}
	if t.limits.MaxPagesPerService < def {
		return t.limits.MaxPagesPerService
	}
	return def
}

// Usage returns a snapshot of the counters.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *Tracker) rejectLocked(kind, msg string) error {
	t.usage.Rejections++
	t.metrics.observeRejection(kind)
	zap.L().Warn("budget: call rejected",
		zap.String("kind", kind),
		zap.Int("search_calls", t.usage.SearchCalls),
		zap.Int("llm_calls", t.usage.LLMCalls),
	)
	return model.NewError(model.ErrRateLimited, msg, false)
}

func (t *Tracker) remainingLocked() map[string]float64 {
	if !t.enforced {
		return nil
	}
	rem := map[string]float64{}
	if t.limits.SearchQueries > 0 {
		rem[KindSearch] = float64(max(t.limits.SearchQueries-t.usage.SearchCalls, 0))
	}
	if t.limits.LLMPerDay > 0 {
		rem[KindLLM] = float64(max(t.limits.LLMPerDay-t.usage.LLMCalls, 0))
	}
	return rem
}
