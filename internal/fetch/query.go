package fetch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
)

const queryPrompt = `%s %sの公式情報を検索するクエリを生成。
取得対象: %s
出力: 検索クエリのみ（1行）`

// generateQuery asks the model for one search query and falls back to
// "<municipality> <service> <keywords>" when the call fails or returns
// nothing usable.
func (f *Fetcher) generateQuery(ctx context.Context, muni model.MunicipalityMeta, svc model.ServiceDefinition, defs []model.VariableDefinition) string {
	targets := svc.SearchKeywords
	if len(targets) == 0 || len(defs) < len(svc.Variables) {
		targets = make([]string, 0, len(defs))
		for _, d := range defs {
			targets = append(targets, describe(d))
		}
	}

	out, err := f.llm.Generate(ctx, fmt.Sprintf(queryPrompt, muni.Name, svc.Name, strings.Join(targets, ", ")),
		llm.Options{Temperature: 0.3, MaxTokens: 100, Purpose: "query_generate"})
	if err != nil {
		zap.L().Warn("fetch: query generation failed, using keywords", zap.String("service", svc.ID), zap.Error(err))
		return fallbackQuery(muni, svc)
	}
	if q := firstLine(out); q != "" {
		return q
	}
	return fallbackQuery(muni, svc)
}

func fallbackQuery(muni model.MunicipalityMeta, svc model.ServiceDefinition) string {
	parts := append([]string{muni.Name, svc.Name}, svc.SearchKeywords...)
	return strings.Join(parts, " ")
}

// firstLine returns the first non-empty line with surrounding quotes and
// code fences removed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		return strings.Trim(line, "\"'`「」 ")
	}
	return ""
}
