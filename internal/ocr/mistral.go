package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	mistralEndpoint     = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
)

// Mistral extracts text from PDFs with the Mistral OCR API.
type Mistral struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// Option configures a Mistral extractor.
type Option func(*Mistral)

// WithModel overrides the OCR model. Empty keeps the default.
func WithModel(model string) Option {
	return func(m *Mistral) {
		if model != "" {
			m.model = model
		}
	}
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) Option {
	return func(m *Mistral) { m.endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Mistral) { m.client = c }
}

// NewMistral creates a Mistral extractor.
func NewMistral(apiKey string, opts ...Option) *Mistral {
	m := &Mistral{
		apiKey:   apiKey,
		model:    defaultMistralModel,
		endpoint: mistralEndpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mistral) Name() string { return "mistral" }

type mistralRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// ExtractText uploads the document inline as a data URL and joins the
// markdown of every returned page.
func (m *Mistral) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	body, err := json.Marshal(mistralRequest{
		Model: m.model,
		Document: mistralDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ocr: mistral request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ocr: read mistral response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("ocr: mistral returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out mistralResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	pages := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		pages = append(pages, p.Markdown)
	}
	return strings.Join(pages, "\n\n"), nil
}
