package fetch

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
)

const (
	defaultSuggestionConfidence = 0.3
	maxPromptPDFs               = 10
)

const suggestionInstructions = `あなたは自治体サイトの情報収集を補助するAIです。
見つからなかった変数に対して、管理者が判断できるように「理由」と「代替案」を提案してください。

制約:
- 事実が確認できない値は断定しない。
- メールアドレスが見つからない場合は、問い合わせフォームURLを提案してよい。
- 電話や住所などが不明な場合は、担当課の代表連絡先や公式ページURLを提案してよい。
- 代替案がない場合は suggestedValue を null にする。
- relatedUrls/relatedPdfs は入力から妥当なものを選ぶ。`

const suggestionFormat = `出力フォーマット（JSON）:
{
  "suggestions": [
    {
      "variableName": "string",
      "reason": "string",
      "suggestedValue": "string | null",
      "suggestedSourceUrl": "string | null",
      "relatedUrls": ["string"],
      "relatedPdfs": ["string"],
      "confidence": 0.0
    }
  ]
}`

type promptVariable struct {
	VariableName string   `json:"variableName"`
	Description  string   `json:"description"`
	Examples     []string `json:"examples,omitempty"`
}

type promptAttempt struct {
	Query        string              `json:"query"`
	ResultsCount int                 `json:"resultsCount"`
	URLs         []string            `json:"urls"`
	Snippets     []string            `json:"snippets"`
	Reason       model.AttemptReason `json:"reason"`
}

type promptAttempts struct {
	VariableName string          `json:"variableName"`
	Attempts     []promptAttempt `json:"attempts"`
}

type suggestionReply struct {
	Suggestions []struct {
		VariableName       string   `json:"variableName"`
		Reason             string   `json:"reason"`
		SuggestedValue     *string  `json:"suggestedValue"`
		SuggestedSourceURL *string  `json:"suggestedSourceUrl"`
		RelatedURLs        []string `json:"relatedUrls"`
		RelatedPDFs        []string `json:"relatedPdfs"`
		Confidence         *float64 `json:"confidence"`
	} `json:"suggestions"`
}

// buildSuggestionPrompt lays out the unresolved variables, what was
// searched for them and the PDF leads collected along the way.
func buildSuggestionPrompt(municipality, service string, vars []model.VariableDefinition, attempts map[string][]model.SearchAttempt, pdfs []string) string {
	pv := make([]promptVariable, 0, len(vars))
	summary := make([]promptAttempts, 0, len(vars))
	for _, v := range vars {
		pv = append(pv, promptVariable{VariableName: v.Name, Description: describe(v), Examples: v.Examples})
		pa := promptAttempts{VariableName: v.Name, Attempts: []promptAttempt{}}
		for _, a := range attempts[v.Name] {
			pa.Attempts = append(pa.Attempts, promptAttempt{
				Query:        a.Query,
				ResultsCount: a.ResultsCount,
				URLs:         head(a.URLs, 3),
				Snippets:     head(a.Snippets, 2),
				Reason:       a.Reason,
			})
		}
		summary = append(summary, pa)
	}

	var b strings.Builder
	b.WriteString(suggestionInstructions)
	b.WriteString("\n\n自治体: " + municipality)
	b.WriteString("\nサービス: " + service)
	b.WriteString("\n\n未取得変数:\n" + indentJSON(pv))
	b.WriteString("\n\n検索試行:\n" + indentJSON(summary))
	b.WriteString("\n\n関連PDF候補:\n" + indentJSON(append([]string{}, head(pdfs, maxPromptPDFs)...)))
	b.WriteString("\n\n" + suggestionFormat)
	return b.String()
}

// suggest asks for a reason and an alternative for every unresolved or
// vague name. Suggestions for other names are dropped. Failures leave the
// run without suggestions.
func (r *run) suggest(ctx context.Context) {
	targets := append(r.missing(), r.vague()...)
	if len(targets) == 0 || r.stopped(ctx) {
		return
	}
	isMissing := make(map[string]bool, len(targets))
	for _, n := range targets {
		isMissing[n] = true
	}

	prompt := buildSuggestionPrompt(r.muni.Name, r.svc.Name, r.defsFor(targets), r.attempts, r.pdfs)
	var reply suggestionReply
	if err := r.f.llm.GenerateJSON(ctx, prompt, &reply, llm.Options{MaxTokens: 1200, Purpose: "missing_suggest"}); err != nil {
		zap.L().Warn("fetch: missing-variable suggestions failed", zap.String("service", r.svc.ID), zap.Error(err))
		return
	}

	out := make(map[string]model.MissingSuggestion)
	for _, s := range reply.Suggestions {
		if !isMissing[s.VariableName] {
			continue
		}
		ms := model.MissingSuggestion{
			VariableName: s.VariableName,
			Reason:       s.Reason,
			RelatedURLs:  s.RelatedURLs,
			RelatedPDFs:  s.RelatedPDFs,
			Confidence:   defaultSuggestionConfidence,
			Status:       model.SuggestionSuggested,
		}
		if s.SuggestedValue != nil {
			ms.SuggestedValue = strings.TrimSpace(*s.SuggestedValue)
		}
		if s.SuggestedSourceURL != nil {
			ms.SuggestedSourceURL = strings.TrimSpace(*s.SuggestedSourceURL)
		}
		if s.Confidence != nil {
			ms.Confidence = min(max(*s.Confidence, 0), 1)
		}
		out[s.VariableName] = ms
	}
	r.suggestions = out
}

func head[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
