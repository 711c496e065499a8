// Package gemini is a minimal client for the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// Client generates content from a single text prompt.
type Client interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Model() string
}

// GenerateRequest is a single-turn prompt with generation settings.
type GenerateRequest struct {
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
	TopK            int
}

// GenerateResponse is the first candidate of a generateContent call.
type GenerateResponse struct {
	Text         string
	FinishReason string
	Usage        UsageMetadata
}

// Truncated reports whether the model stopped on its token limit.
func (r *GenerateResponse) Truncated() bool {
	return r.FinishReason == "MAX_TOKENS" || r.FinishReason == "LENGTH"
}

// UsageMetadata reports token consumption.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// StatusError is returned for non-2xx responses or an error body.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %s", e.StatusCode, e.Message)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type requestBody struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type responseBody struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata UsageMetadata `json:"usageMetadata"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		if model != "" {
			c.model = model
		}
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
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a Gemini API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Model() string { return c.model }

func (c *httpClient) GenerateContent(ctx context.Context, gr GenerateRequest) (*GenerateResponse, error) {
	cfg := generationConfig{
		Temperature:     gr.Temperature,
		MaxOutputTokens: gr.MaxOutputTokens,
		TopP:            gr.TopP,
		TopK:            gr.TopK,
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 2048
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 0.8
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}

	body, err := json.Marshal(requestBody{
		Contents:         []content{{Parts: []part{{Text: gr.Prompt}}}},
		GenerationConfig: cfg,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: read response")
	}

	var rb responseBody
	jsonErr := json.Unmarshal(respBody, &rb)

	if rb.Error != nil {
		code := rb.Error.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &StatusError{StatusCode: code, Message: rb.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if jsonErr != nil {
		return nil, eris.Wrap(jsonErr, "gemini: unmarshal response")
	}

	if len(rb.Candidates) == 0 {
		return nil, eris.New("gemini: no candidates in response")
	}
	cand := rb.Candidates[0]
	if len(cand.Content.Parts) == 0 || cand.Content.Parts[0].Text == "" {
		return nil, eris.Errorf("gemini: empty candidate (finishReason=%s)", cand.FinishReason)
	}

	finish := cand.FinishReason
	if finish == "" {
		finish = "UNKNOWN"
	}
	return &GenerateResponse{
		Text:         cand.Content.Parts[0].Text,
		FinishReason: finish,
		Usage:        rb.UsageMetadata,
	}, nil
}
