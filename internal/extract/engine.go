// Package extract turns search snippets and page text into variable values
// through a structured LLM call.
package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/validate"
)

const (
	// SnippetConfidence is the base confidence of a snippet hit.
	SnippetConfidence = 0.7
	// PageConfidence is the base confidence of a page hit.
	PageConfidence = 0.8
	// MaxPageRunes bounds the page text sent to the model.
	MaxPageRunes = 15000
)

// SnippetExtraction is the outcome of a snippet pass.
type SnippetExtraction struct {
	Variables      []model.ExtractedVariable
	NeedsPageFetch []string
}

// Engine extracts variable values. It holds no state besides the client.
type Engine struct {
	llm      llm.Client
	maxRunes int
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxPageRunes overrides MaxPageRunes.
func WithMaxPageRunes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRunes = n
		}
	}
}

// New creates an Engine.
func New(c llm.Client, opts ...Option) *Engine {
	e := &Engine{llm: c, maxRunes: MaxPageRunes, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(e)
	}
	return e
}

type snippetHit struct {
	Value       any `json:"value"`
	SourceIndex int `json:"sourceIndex"`
}

type snippetResponse struct {
	Extracted      map[string]snippetHit `json:"extracted"`
	NeedsPageFetch []string              `json:"needsPageFetch"`
}

// FromSnippets asks for each variable either a value with the 1-based index
// of the result it came from, or a request for full page inspection. Names
// the model invents are dropped.
func (e *Engine) FromSnippets(ctx context.Context, results []model.SearchResult, vars []model.VariableDefinition) (*SnippetExtraction, error) {
	out := &SnippetExtraction{}
	if len(results) == 0 || len(vars) == 0 {
		return out, nil
	}

	prompt := fmt.Sprintf(snippetPrompt, variableList(vars, false), snippetList(results))
	var resp snippetResponse
	if err := e.llm.GenerateJSON(ctx, prompt, &resp, llm.Options{Purpose: "snippet_extract"}); err != nil {
		return nil, err
	}

	now := e.now()
	requested := make(map[string]bool, len(vars))
	for _, v := range vars {
		requested[v.Name] = true
	}

	for _, v := range vars {
		hit, found := resp.Extracted[v.Name]
		if !found {
			continue
		}
		value := stringify(hit.Value)
		if value == nil {
			continue
		}
		ev := model.ExtractedVariable{
			VariableName: v.Name,
			Value:        value,
			Confidence:   SnippetConfidence,
			ExtractedAt:  now,
		}
		if hit.SourceIndex >= 1 && hit.SourceIndex <= len(results) {
			ev.SourceURL = results[hit.SourceIndex-1].URL
		}
		out.Variables = append(out.Variables, ev)
	}

	seen := make(map[string]bool)
	for _, name := range resp.NeedsPageFetch {
		if !requested[name] || seen[name] {
			continue
		}
		seen[name] = true
		out.NeedsPageFetch = append(out.NeedsPageFetch, name)
	}

	zap.L().Debug("extract: snippets",
		zap.Int("results", len(results)),
		zap.Int("extracted", len(out.Variables)),
		zap.Strings("needs_page_fetch", out.NeedsPageFetch),
	)
	return out, nil
}

// FromPage extracts every requested variable from one page. The result has
// one entry per requested variable, in order; unresolved ones carry a nil
// value and zero confidence.
func (e *Engine) FromPage(ctx context.Context, page model.PageContent, vars []model.VariableDefinition) ([]model.ExtractedVariable, error) {
	if len(vars) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(pagePrompt, variableList(vars, true), Truncate(page.Text, e.maxRunes))
	resp := map[string]any{}
	if err := e.llm.GenerateJSON(ctx, prompt, &resp, llm.Options{Purpose: "page_extract"}); err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]model.ExtractedVariable, 0, len(vars))
	for _, v := range vars {
		ev := model.ExtractedVariable{
			VariableName: v.Name,
			Value:        stringify(resp[v.Name]),
			SourceURL:    page.URL,
			ExtractedAt:  now,
		}
		if ev.Value != nil {
			ev.Confidence = PageConfidence
		}
		out = append(out, ev)
	}
	return out, nil
}

// stringify converts a decoded JSON value to a variable value. Models
// sometimes answer numbers or the string "null".
func stringify(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		return &s
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	default:
		s := fmt.Sprint(t)
		return &s
	}
}

// PreferValue reports whether candidate should replace existing. A value
// already present is only displaced by a more concrete one.
func PreferValue(existing *model.ExtractedVariable, candidate model.ExtractedVariable) bool {
	if !candidate.HasValue() {
		return false
	}
	if existing == nil || !existing.HasValue() {
		return true
	}
	name := candidate.VariableName
	return !validate.IsConcrete(name, existing.Value) && validate.IsConcrete(name, candidate.Value)
}
