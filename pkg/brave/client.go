// Package brave is a client for the Brave Web Search API.
package brave

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1"

// Client performs Brave web searches.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest holds web search parameters.
type SearchRequest struct {
	Query string
	// Site, when set, prefixes the query with "site:<host> ".
	Site       string
	Count      int
	Country    string
	SearchLang string
}

// SearchResponse is the subset of the web search response we use.
type SearchResponse struct {
	Web *WebResults `json:"web,omitempty"`
}

// Results returns the web results, or nil when the response has none.
func (r *SearchResponse) Results() []Result {
	if r == nil || r.Web == nil {
		return nil
	}
	return r.Web.Results
}

// WebResults wraps the web result list.
type WebResults struct {
	Results []Result `json:"results"`
}

// Result is a single web hit.
type Result struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	ExtraSnippets []string `json:"extra_snippets,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("brave: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*restClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *restClient) {
		c.rest.SetBaseURL(url)
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *restClient) {
		c.rest.SetTimeout(d)
	}
}

type restClient struct {
	rest *resty.Client
}

// NewClient creates a Brave client authenticated with a subscription token.
func NewClient(apiKey string, opts ...Option) Client {
	rest := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("X-Subscription-Token", apiKey)

	c := &restClient{rest: rest}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *restClient) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	q := sr.Query
	if sr.Site != "" {
		q = "site:" + sr.Site + " " + q
	}
	count := sr.Count
	if count <= 0 {
		count = 5
	}
	country := sr.Country
	if country == "" {
		country = "JP"
	}
	lang := sr.SearchLang
	if lang == "" {
		lang = "jp"
	}

	var out SearchResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":                q,
			"count":            strconv.Itoa(count),
			"country":          country,
			"search_lang":      lang,
			"text_decorations": "false",
		}).
		SetResult(&out).
		Get("/web/search")
	if err != nil {
		return nil, eris.Wrap(err, "brave: send request")
	}

	if resp.IsError() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	return &out, nil
}
