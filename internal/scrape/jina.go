package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/resilience"
	"github.com/sells-group/munivars/pkg/jina"
)

// Challenge pages the reader sometimes returns verbatim.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// JinaAdapter renders pages through Jina Reader. Three consecutive failures
// open its breaker for a minute, after which the chain skips it.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter from a Jina client.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker("jina", resilience.BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			ShouldTrip:       func(err error) bool { return err != nil },
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a URL via Jina Reader, asking for the link summary so the
// deep-search crawler can follow anchors on rendered pages.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := j.client.Read(ctx, targetURL, jina.WithLinks(), jina.WithRenderTimeout(20*time.Second))
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.New("jina: response needs fallback")
		}
		return resp, nil
	})
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, err, true)
	}

	pageURL := resp.Data.URL
	if pageURL == "" {
		pageURL = targetURL
	}

	var links []model.Link
	seen := make(map[string]bool)
	for _, l := range resp.Data.Links {
		if len(l) < 2 {
			continue
		}
		u := resolveURL(nil, l[1])
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		links = append(links, model.Link{URL: u, Text: strings.TrimSpace(l[0])})
	}

	return &Result{
		Page: model.PageContent{
			URL:        pageURL,
			Title:      resp.Data.Title,
			Text:       collapseWhitespace(resp.Data.Content),
			StatusCode: 200,
			Source:     "jina",
			FetchedAt:  time.Now().UTC(),
		},
		Links:  links,
		Source: "jina",
	}, nil
}

// needsFallback reports whether a reader response is empty or a challenge
// page rather than real content.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len([]rune(content)) < 50 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	return false
}
