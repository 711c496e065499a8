package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/resilience"
	"github.com/sells-group/munivars/pkg/gemini"
)

type scriptedProvider struct {
	replies []*Completion
	errs    []error
	prompts []string
	opts    []Options
}

func (s *scriptedProvider) Name() string { return "fake" }

func (s *scriptedProvider) Complete(_ context.Context, prompt string, opts Options) (*Completion, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return &Completion{Text: "{}"}, nil
}

func TestGenerate_Defaults(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{{Text: "京都市 住民票 手数料"}}}
	c := New(p)

	out, err := c.Generate(context.Background(), "クエリを生成", Options{Purpose: "query"})
	require.NoError(t, err)
	assert.Equal(t, "京都市 住民票 手数料", out)
	assert.Equal(t, "fake", c.Provider())
	assert.InDelta(t, 0.3, p.opts[0].Temperature, 1e-9)
	assert.Equal(t, 2048, p.opts[0].MaxTokens)
}

func TestGenerateJSON_StripsFences(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{{Text: "```json\n{\"extracted\":{\"juminhyo_fee\":{\"value\":\"300円\",\"sourceIndex\":1}}}\n```"}}}
	c := New(p)

	var out struct {
		Extracted map[string]struct {
			Value       *string `json:"value"`
			SourceIndex int     `json:"sourceIndex"`
		} `json:"extracted"`
	}
	require.NoError(t, c.GenerateJSON(context.Background(), "抽出", &out, Options{}))

	require.Contains(t, out.Extracted, "juminhyo_fee")
	assert.Equal(t, "300円", *out.Extracted["juminhyo_fee"].Value)
	assert.Contains(t, p.prompts[0], "JSON形式のみで回答してください")
	assert.InDelta(t, 0.1, p.opts[0].Temperature, 1e-9)
	assert.Equal(t, 8192, p.opts[0].MaxTokens)
}

func TestGenerateJSON_Malformed(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{{Text: `{"extracted": {"a": `, Truncated: true, FinishReason: "MAX_TOKENS"}}}
	var out map[string]any
	err := New(p).GenerateJSON(context.Background(), "x", &out, Options{Purpose: "page_extract"})

	require.Error(t, err)
	assert.Equal(t, model.ErrExtractionFailed, model.CodeOf(err))
	assert.Contains(t, err.Error(), "truncated at MAX_TOKENS")
}

func TestGenerate_RetriesTransient(t *testing.T) {
	p := &scriptedProvider{
		errs:    []error{resilience.NewTransientError(errors.New("503"), 503)},
		replies: []*Completion{nil, {Text: "ok"}},
	}
	out, err := New(p, WithRetries(2, time.Millisecond)).Generate(context.Background(), "x", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, p.prompts, 2)
}

func TestGenerate_RetriesReserveBudgetOnce(t *testing.T) {
	tracker := budget.New(model.FreeTierLimits{LLMPerDay: 2}, true)
	p := &scriptedProvider{
		errs: []error{
			resilience.NewTransientError(errors.New("503"), 503),
			resilience.NewTransientError(errors.New("503"), 503),
		},
		replies: []*Completion{nil, nil, {Text: "ok"}},
	}
	c := New(p, WithBudget(tracker), WithRetries(2, time.Millisecond))

	out, err := c.Generate(context.Background(), "x", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, p.prompts, 3)
	assert.Equal(t, 1, tracker.Usage().LLMCalls)

	_, err = c.Generate(context.Background(), "y", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.Usage().LLMCalls)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "住民票", truncate("住民票の写し", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "", truncate("", 5))
}

func TestGenerateJSON_MalformedKeepsRunes(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{{Text: "{" + strings.Repeat("手数料", 100)}}}
	var out map[string]any
	err := New(p).GenerateJSON(context.Background(), "x", &out, Options{Purpose: "page_extract"})

	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
}

func TestGenerate_PermanentErrorClassified(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("400 bad request")}}
	_, err := New(p, WithRetries(2, time.Millisecond)).Generate(context.Background(), "x", Options{})

	require.Error(t, err)
	assert.Equal(t, model.ErrExtractionFailed, model.CodeOf(err))
	assert.False(t, model.IsRetryable(err))
	assert.Len(t, p.prompts, 1)
}

func TestGenerate_BudgetExhausted(t *testing.T) {
	tracker := budget.New(model.FreeTierLimits{LLMPerDay: 1}, true)
	p := &scriptedProvider{}
	c := New(p, WithBudget(tracker))

	_, err := c.Generate(context.Background(), "x", Options{})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "x", Options{})
	require.Error(t, err)
	assert.Equal(t, model.ErrRateLimited, model.CodeOf(err))
	assert.Len(t, p.prompts, 1)
	assert.Equal(t, 1, tracker.Usage().LLMCalls)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"以下の通りです。\n{\"a\":{\"b\":2}}\nよろしくお願いします", `{"a":{"b":2}}`},
		{`{"a":1}`, `{"a":1}`},
		{"no json", "no json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanJSON(tt.in))
	}
}

func TestGeminiProvider_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"suggestedQueries\":[]}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	c, err := NewFromConfig(config.LLMConfig{
		Provider: "gemini",
		Gemini:   config.GeminiConfig{Key: "k", BaseURL: srv.URL, Model: "gemini-test"},
	})
	require.NoError(t, err)

	var out struct {
		SuggestedQueries []string `json:"suggestedQueries"`
	}
	require.NoError(t, c.GenerateJSON(context.Background(), "x", &out, Options{}))
	assert.Empty(t, out.SuggestedQueries)
	assert.Equal(t, "gemini", c.Provider())
}

func TestGeminiProvider_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource exhausted"}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(gemini.NewClient("k", gemini.WithBaseURL(srv.URL)))
	_, err := p.Complete(context.Background(), "x", Options{Temperature: 0.3, MaxTokens: 10})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 429, resilience.StatusCode(err))
}

func TestNewFromConfig_Errors(t *testing.T) {
	_, err := NewFromConfig(config.LLMConfig{Provider: "gemini"})
	require.Error(t, err)

	_, err = NewFromConfig(config.LLMConfig{Provider: "anthropic"})
	require.Error(t, err)

	_, err = NewFromConfig(config.LLMConfig{Provider: "openai", Gemini: config.GeminiConfig{Key: "k"}})
	require.Error(t, err)

	c, err := NewFromConfig(config.LLMConfig{Provider: "anthropic", Anthropic: config.AnthropicConfig{Key: "k", Model: "m"}})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Provider())
}
