package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/munivars/internal/model"
)

const snippetPrompt = `検索結果から以下を抽出しJSON出力。不確かならneedsPageFetchに追加。
%s

検索結果:
%s

出力形式: { "extracted": { "変数名": { "value": "値", "sourceIndex": 番号 } }, "needsPageFetch": ["変数名"] }`

const pagePrompt = `ページから以下を抽出しJSON出力。見つからなければnull。
%s

ページ:
%s

出力形式: { "変数名": "値" または null }`

// truncatedMarker is appended when page text exceeds the prompt budget.
const truncatedMarker = "\n...[省略]"

func variableList(vars []model.VariableDefinition, withHints bool) string {
	var b strings.Builder
	for i, v := range vars {
		if i > 0 {
			b.WriteByte('\n')
		}
		desc := v.Description
		if desc == "" {
			desc = v.Name
		}
		fmt.Fprintf(&b, "- %s: %s", v.Name, desc)
		if withHints && len(v.Examples) > 0 {
			fmt.Fprintf(&b, " (例: %s)", strings.Join(v.Examples, "、"))
		}
	}
	return b.String()
}

func snippetList(results []model.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[%d] %s\n%s\nURL: %s", i+1, r.Title, r.Snippet, r.URL)
	}
	return strings.Join(parts, "\n\n")
}

// Truncate cuts text to at most limit runes, marking the cut.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncatedMarker
}
