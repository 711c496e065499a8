// Package google is a thin client for the Google Custom Search JSON API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Client performs Custom Search queries.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest holds Custom Search query parameters.
type SearchRequest struct {
	Query      string
	Num        int
	SiteSearch string
	Language   string
}

// SearchResponse is the subset of the Custom Search response we use.
type SearchResponse struct {
	Items []Item     `json:"items"`
	Error *errorBody `json:"error,omitempty"`
}

// Item is a single search hit.
type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("google: status %d: %s", e.StatusCode, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	cx      string
	baseURL string
	http    *http.Client
}

// NewClient creates a Custom Search client for the given key and search
// engine id (cx).
func NewClient(apiKey, cx string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		cx:      cx,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	num := sr.Num
	if num <= 0 {
		num = 5
	}
	lang := sr.Language
	if lang == "" {
		lang = "lang_ja"
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cx)
	params.Set("q", sr.Query)
	params.Set("num", strconv.Itoa(num))
	params.Set("lr", lang)
	if sr.SiteSearch != "" {
		params.Set("siteSearch", sr.SiteSearch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	var result SearchResponse
	if jsonErr := json.Unmarshal(respBody, &result); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, eris.Wrap(jsonErr, "google: unmarshal response")
	}

	if resp.StatusCode != http.StatusOK || result.Error != nil {
		se := &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
		if result.Error != nil {
			se.Message = result.Error.Message
			if result.Error.Code != 0 {
				se.StatusCode = result.Error.Code
			}
		}
		return nil, se
	}

	return &result, nil
}
