// Package llm is the language model gateway used by extraction, crawling
// and query generation. Every call is paced and counted by the budget
// tracker and retried on transient provider failures.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/resilience"
	"github.com/sells-group/munivars/pkg/anthropic"
	"github.com/sells-group/munivars/pkg/gemini"
)

const jsonInstruction = "\n\n重要: JSON形式のみで回答してください。説明文やマークダウンは含めないでください。"

// Options tunes a single generation. Zero values select the defaults:
// 0.3 / 2048 tokens for text, 0.1 / 8192 tokens for JSON.
type Options struct {
	Temperature float64
	MaxTokens   int
	// Purpose labels the call in logs ("snippet_extract", "link_eval", ...).
	Purpose string
}

// Client generates text or JSON from a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	GenerateJSON(ctx context.Context, prompt string, out any, opts Options) error
	Provider() string
}

// Completion is one provider response.
type Completion struct {
	Text         string
	FinishReason string
	Truncated    bool
}

// Provider is a single model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts Options) (*Completion, error)
}

// Option configures the client.
type Option func(*client)

// WithBudget counts and paces calls against the free-tier tracker.
func WithBudget(t *budget.Tracker) Option {
	return func(c *client) {
		if t != nil {
			c.budget = t
		}
	}
}

// WithRetries sets the number of retries after the first attempt and the
// initial backoff between them.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *client) {
		c.retries = n
		c.backoff = backoff
	}
}

type client struct {
	provider Provider
	budget   *budget.Tracker
	retries  int
	backoff  time.Duration
}

// New wraps a provider.
func New(p Provider, opts ...Option) Client {
	c := &client{provider: p, budget: budget.Unlimited(), retries: 2}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFromConfig builds the configured provider.
func NewFromConfig(cfg config.LLMConfig, opts ...Option) (Client, error) {
	timeout := config.Seconds(cfg.TimeoutSecs, 60*time.Second)
	switch cfg.Provider {
	case "", "gemini":
		if cfg.Gemini.Key == "" {
			return nil, eris.New("llm: gemini api key is not set")
		}
		gopts := []gemini.Option{gemini.WithHTTPClient(&http.Client{Timeout: timeout})}
		if cfg.Gemini.BaseURL != "" {
			gopts = append(gopts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
		}
		if cfg.Gemini.Model != "" {
			gopts = append(gopts, gemini.WithModel(cfg.Gemini.Model))
		}
		return New(NewGeminiProvider(gemini.NewClient(cfg.Gemini.Key, gopts...)), opts...), nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("llm: anthropic key is not set")
		}
		ac := anthropic.NewClient(cfg.Anthropic.Key, anthropic.WithMaxRetries(0))
		return New(NewAnthropicProvider(ac, cfg.Anthropic.Model), opts...), nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func (c *client) Provider() string { return c.provider.Name() }

func (c *client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 2048
	}
	comp, err := c.complete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}

func (c *client) GenerateJSON(ctx context.Context, prompt string, out any, opts Options) error {
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 8192
	}
	comp, err := c.complete(ctx, prompt+jsonInstruction, opts)
	if err != nil {
		return err
	}
	if comp.Truncated {
		zap.L().Warn("llm: output truncated",
			zap.String("provider", c.provider.Name()),
			zap.String("purpose", opts.Purpose),
			zap.String("finish_reason", comp.FinishReason),
		)
	}

	cleaned := CleanJSON(comp.Text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		msg := fmt.Sprintf("llm: parse %s response as JSON: %s", opts.Purpose, truncate(cleaned, 200))
		if comp.Truncated {
			msg = fmt.Sprintf("llm: parse %s response as JSON (output truncated at %s): %s", opts.Purpose, comp.FinishReason, truncate(cleaned, 200))
		}
		return model.WrapError(model.ErrExtractionFailed, eris.Wrap(err, msg), false)
	}
	return nil
}

func (c *client) complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	name := c.provider.Name()
	rc := resilience.ForBackend(name, opts.Purpose, c.retries)
	if c.backoff > 0 {
		rc.InitialBackoff = c.backoff
	}
	// One logical call reserves one unit of budget however often it retries.
	if err := c.budget.UseLLM(ctx, name); err != nil {
		return nil, err
	}
	comp, err := resilience.DoVal(ctx, rc,
		func(ctx context.Context) (*Completion, error) {
			return c.provider.Complete(ctx, prompt, opts)
		})
	if err != nil {
		var ae *model.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		e := model.WrapError(model.ErrExtractionFailed, err, resilience.IsTransient(err))
		e.StatusCode = resilience.StatusCode(err)
		return nil, e
	}
	return comp, nil
}

// CleanJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
