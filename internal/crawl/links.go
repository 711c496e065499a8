package crawl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
	"github.com/sells-group/munivars/internal/search"
)

const (
	maxLinksToRank = 20
	minRelevance   = 50
)

const linkRankPrompt = `以下のリンクの中から、指定された情報を取得するのに有用なリンクを評価してください。

【取得したい情報】
%s

【ページ内のリンク】
%s

【出力形式】
JSON形式で、有用なリンクを関連性スコア順（高い順）で出力してください。
関連性スコアは0-100で評価してください。

{
  "evaluatedLinks": [
    {
      "index": リンク番号,
      "relevanceScore": 関連性スコア(0-100),
      "reason": "このリンクが有用な理由"
    }
  ]
}

注意:
- 「詳細はこちら」「○○について」「手続き案内」などのリンクは有用な可能性が高い
- ファイルダウンロード（申請書等）は情報取得には不向き
- 関連性スコア50以上のリンクのみ含めてください
- 最大%d件まで`

type evaluatedLink struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevanceScore"`
	Reason         string  `json:"reason"`
}

// RankedLink is a link the model judged relevant.
type RankedLink struct {
	model.Link
	Score  float64
	Reason string
}

var downloadSuffixes = []string{".pdf", ".xlsx", ".doc", ".docx"}

// isDownloadLink reports file downloads that never yield page text.
func isDownloadLink(raw string) bool {
	lower := strings.ToLower(raw)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, s := range downloadSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return strings.Contains(lower, "/download/")
}

// isOfficialLink accepts government hosts and the municipality's own host.
func isOfficialLink(raw, officialURL string) bool {
	if search.IsOfficialDomain(raw) {
		return true
	}
	return officialURL != "" && search.SameHost(raw, officialURL)
}

// partitionLinks splits anchors into crawlable official links and official
// PDF leads.
func partitionLinks(links []model.Link, officialURL string) (crawlable []model.Link, pdfs []string) {
	for _, l := range links {
		if !isOfficialLink(l.URL, officialURL) {
			continue
		}
		if scrape.IsPDFURL(l.URL) {
			pdfs = append(pdfs, l.URL)
			continue
		}
		if isDownloadLink(l.URL) || !scrape.IsUsefulURL(l.URL) {
			continue
		}
		crawlable = append(crawlable, l)
	}
	return crawlable, pdfs
}

// rankLinks scores the first twenty links against the pending variables in
// one model call and returns those scoring at least 50, best first, capped
// at limit. Any model failure yields no links.
func rankLinks(ctx context.Context, c llm.Client, links []model.Link, pending []model.VariableDefinition, limit int) []RankedLink {
	if len(links) == 0 || len(pending) == 0 || limit <= 0 {
		return nil
	}
	if len(links) > maxLinksToRank {
		links = links[:maxLinksToRank]
	}

	var vars, list strings.Builder
	for i, v := range pending {
		if i > 0 {
			vars.WriteByte('\n')
		}
		fmt.Fprintf(&vars, "- %s: %s", v.Name, v.Description)
	}
	for i, l := range links {
		if i > 0 {
			list.WriteByte('\n')
		}
		text := l.Text
		if text == "" {
			text = l.URL
		}
		fmt.Fprintf(&list, "[%d] %s -> %s", i+1, text, l.URL)
	}

	var resp struct {
		EvaluatedLinks []evaluatedLink `json:"evaluatedLinks"`
	}
	prompt := fmt.Sprintf(linkRankPrompt, vars.String(), list.String(), limit)
	if err := c.GenerateJSON(ctx, prompt, &resp, llm.Options{Purpose: "link_eval", MaxTokens: 800}); err != nil {
		zap.L().Warn("crawl: link evaluation failed", zap.Error(err))
		return nil
	}

	sort.SliceStable(resp.EvaluatedLinks, func(i, j int) bool {
		return resp.EvaluatedLinks[i].RelevanceScore > resp.EvaluatedLinks[j].RelevanceScore
	})

	var out []RankedLink
	seen := make(map[int]bool)
	for _, e := range resp.EvaluatedLinks {
		if len(out) >= limit {
			break
		}
		if e.RelevanceScore < minRelevance || e.Index < 1 || e.Index > len(links) || seen[e.Index] {
			continue
		}
		seen[e.Index] = true
		out = append(out, RankedLink{Link: links[e.Index-1], Score: e.RelevanceScore, Reason: e.Reason})
	}
	return out
}
