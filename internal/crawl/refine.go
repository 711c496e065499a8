package crawl

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
	"github.com/sells-group/munivars/internal/search"
	"github.com/sells-group/munivars/internal/validate"
)

const (
	maxSuggestedQueries  = 3
	refinedPagesPerQuery = 3
)

const refinePrompt = `以下の情報取得に失敗しました。より具体的な検索クエリを提案してください。

【自治体名】
%s

【サービス】
%s

【元の検索クエリ】
%s

【取得できなかった情報】
%s
%s
【出力形式】
JSON形式で、効果的な検索クエリを提案してください。

{
  "suggestedQueries": [
    {
      "query": "提案する検索クエリ",
      "targetVariables": ["このクエリで取得を狙う変数名"],
      "reason": "このクエリが有効な理由"
    }
  ]
}

注意:
- 「手数料」「料金表」「金額」など具体的なキーワードを含める
- 「申請書」「様式」よりも「案内」「一覧」「料金」を優先
- 自治体名は必ず含める
- 最大3つまでの提案にしてください`

// SuggestedQuery is a model-proposed follow-up search.
type SuggestedQuery struct {
	Query           string   `json:"query"`
	TargetVariables []string `json:"targetVariables"`
	Reason          string   `json:"reason"`
}

// RefineRequest describes what the earlier passes failed to resolve.
type RefineRequest struct {
	Municipality  string
	Service       string
	OriginalQuery string
	Pending       []model.VariableDefinition
	// VagueValues holds the non-concrete values found so far, by name.
	VagueValues map[string]string
	VisitedURLs []string
}

// SuggestRefinedQueries asks for at most three sharper queries. Target
// names are restricted to the pending set; a query with none targets all
// of it. Model failures yield no queries.
func (c *Crawler) SuggestRefinedQueries(ctx context.Context, req RefineRequest) []SuggestedQuery {
	if len(req.Pending) == 0 {
		return nil
	}

	var vars strings.Builder
	pendingNames := make([]string, 0, len(req.Pending))
	isPending := make(map[string]bool, len(req.Pending))
	for i, v := range req.Pending {
		if i > 0 {
			vars.WriteByte('\n')
		}
		fmt.Fprintf(&vars, "- %s: %s", v.Name, v.Description)
		if failed := req.VagueValues[v.Name]; failed != "" {
			fmt.Fprintf(&vars, " (取得された値: \"%s\" - 具体的でない)", failed)
		}
		pendingNames = append(pendingNames, v.Name)
		isPending[v.Name] = true
	}

	extra := ""
	if len(req.VisitedURLs) > 0 {
		extra = "\n【確認済みのページ】\n" + strings.Join(req.VisitedURLs, "\n") + "\n"
	}

	prompt := fmt.Sprintf(refinePrompt, req.Municipality, req.Service, req.OriginalQuery, vars.String(), extra)
	var resp struct {
		SuggestedQueries []SuggestedQuery `json:"suggestedQueries"`
	}
	if err := c.llm.GenerateJSON(ctx, prompt, &resp, llm.Options{Purpose: "refine_query"}); err != nil {
		zap.L().Warn("crawl: query refinement failed", zap.Error(err))
		return nil
	}

	var out []SuggestedQuery
	for _, q := range resp.SuggestedQueries {
		if len(out) >= maxSuggestedQueries {
			break
		}
		q.Query = strings.TrimSpace(q.Query)
		if q.Query == "" {
			continue
		}
		var targets []string
		for _, name := range q.TargetVariables {
			if isPending[name] {
				targets = append(targets, name)
			}
		}
		if len(targets) == 0 {
			targets = append([]string(nil), pendingNames...)
		}
		q.TargetVariables = targets
		out = append(out, q)
	}
	return out
}

// RefinedSearch runs one suggested query, reads the top three official
// pages and returns the concrete, valid values it finds, one per variable.
// Accepted values are normalized and their confidence raised by 0.1.
func (c *Crawler) RefinedSearch(ctx context.Context, q SuggestedQuery, muni model.MunicipalityMeta, targets []model.VariableDefinition) []model.ExtractedVariable {
	if len(targets) == 0 {
		return nil
	}
	results, err := c.searcher.SearchMunicipality(ctx, muni.Name, muni.OfficialURL, q.Query)
	if err != nil {
		zap.L().Warn("crawl: refined search failed", zap.String("query", q.Query), zap.Error(err))
		return nil
	}

	var urls []string
	for _, r := range results {
		if len(urls) >= refinedPagesPerQuery {
			break
		}
		if scrape.IsUsefulURL(r.URL) && search.IsOfficialDomain(r.URL) {
			urls = append(urls, r.URL)
		}
	}

	byName := make(map[string]model.VariableDefinition, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}

	var out []model.ExtractedVariable
	found := make(map[string]bool)
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		page, err := c.open(ctx, u, c.pageTimeout)
		if err != nil {
			zap.L().Warn("crawl: refined page failed", zap.String("url", u), zap.Error(err))
			continue
		}
		extracted, err := c.engine.FromPage(ctx, model.PageContent{URL: u, Title: page.Title, Text: page.Text}, targets)
		if err != nil {
			zap.L().Warn("crawl: refined extraction failed", zap.String("url", u), zap.Error(err))
			continue
		}
		for _, ev := range extracted {
			if found[ev.VariableName] || !ev.HasValue() || !validate.IsConcreteValue(ev.VariableName, *ev.Value) {
				continue
			}
			vr := validate.Variable(byName[ev.VariableName], *ev.Value)
			if !vr.Valid {
				continue
			}
			ev.Value = model.StrPtr(vr.Normalized)
			ev.Confidence = min(ev.Confidence+0.1, 1.0)
			ev.Validated = true
			found[ev.VariableName] = true
			out = append(out, ev)
		}
	}
	return out
}
