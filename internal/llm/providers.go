package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/resilience"
	"github.com/sells-group/munivars/pkg/anthropic"
	"github.com/sells-group/munivars/pkg/gemini"
)

// GeminiProvider calls Gemini generateContent.
type GeminiProvider struct {
	client gemini.Client
}

// NewGeminiProvider wraps a Gemini client.
func NewGeminiProvider(c gemini.Client) *GeminiProvider {
	return &GeminiProvider{client: c}
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	resp, err := g.client.GenerateContent(ctx, gemini.GenerateRequest{
		Prompt:          prompt,
		Temperature:     opts.Temperature,
		MaxOutputTokens: opts.MaxTokens,
		TopP:            0.8,
		TopK:            40,
	})
	if err != nil {
		var se *gemini.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			return nil, resilience.NewTransientError(err, se.StatusCode)
		}
		return nil, err
	}
	return &Completion{Text: resp.Text, FinishReason: resp.FinishReason, Truncated: resp.Truncated()}, nil
}

// AnthropicProvider calls the Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider wraps an Anthropic client for the given model.
func NewAnthropicProvider(c anthropic.Client, model string) *AnthropicProvider {
	return &AnthropicProvider{client: c, model: model}
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

func (a *AnthropicProvider) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	temp := opts.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(opts.MaxTokens),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(err, code)
		}
		return nil, err
	}
	resp.Usage.Log(a.model, opts.Purpose)

	text := resp.Text()
	if text == "" {
		return nil, eris.Errorf("anthropic: empty response (stop reason %s)", resp.StopReason)
	}
	return &Completion{
		Text:         text,
		FinishReason: resp.StopReason,
		Truncated:    resp.StopReason == "max_tokens",
	}, nil
}
