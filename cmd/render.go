package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sells-group/munivars/internal/model"
)

// ANSI colours.
const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorDim    = "\x1b[2m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var stepIcons = map[model.PipelineStep]string{
	model.StepCreate:   "🏗️",
	model.StepFetch:    "🔍",
	model.StepReview:   "📝",
	model.StepApply:    "✅",
	model.StepValidate: "🔒",
}

func logLine(w io.Writer, color, msg string) {
	_, _ = fmt.Fprintf(w, "%s%s%s\n", color, msg, colorReset)
}

func logStep(w io.Writer, icon, msg string) {
	_, _ = fmt.Fprintf(w, "\n%s %s%s%s\n", icon, colorBold, msg, colorReset)
}

func logDetail(w io.Writer, label, value string) {
	_, _ = fmt.Fprintf(w, "   %s%s:%s %s\n", colorDim, label, colorReset, value)
}

// progressBar renders a 20-cell bar for pct in [0,100].
func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct / 5
	return strings.Repeat("█", filled) + strings.Repeat("░", 20-filled)
}

func percent(p *model.Progress) int {
	if p == nil || p.Total <= 0 {
		return 0
	}
	return p.Current * 100 / p.Total
}

// consoleListener prints pipeline events for an operator at a terminal.
func consoleListener(w io.Writer) func(model.PipelineEvent) {
	return func(ev model.PipelineEvent) {
		switch ev.Type {
		case model.EventStepStart:
			if ev.Step == "" {
				return
			}
			icon, ok := stepIcons[ev.Step]
			if !ok {
				icon = "▶️"
			}
			logStep(w, icon, ev.Message)
		case model.EventStepComplete:
			logDetail(w, "結果", ev.Message)
		case model.EventProgress:
			if ev.Progress == nil {
				logDetail(w, "情報", ev.Message)
				return
			}
			pct := percent(ev.Progress)
			_, _ = fmt.Fprintf(w, "\r   [%s] %d%% %s                    ", progressBar(pct), pct, ev.Message)
			if pct >= 100 {
				_, _ = fmt.Fprintln(w)
			}
		case model.EventError:
			logLine(w, colorRed, "\n   ❌ "+ev.Message)
		}
	}
}

func printBanner(w io.Writer, pc model.PipelineConfig) {
	_, _ = fmt.Fprintf(w, "\n%s%s%s\n%s  Munivars Pipeline%s\n%s%s%s\n\n",
		colorBold, rule, colorReset, colorBold, colorReset, colorBold, rule, colorReset)

	logDetail(w, "自治体", fmt.Sprintf("%s (%s)", pc.Name, pc.MunicipalityID))
	logDetail(w, "都道府県", pc.Prefecture)
	if pc.OfficialURL != "" {
		logDetail(w, "公式URL", pc.OfficialURL)
	}
	if len(pc.Services) > 0 {
		logDetail(w, "サービス", strings.Join(pc.Services, ", "))
	}
	if pc.AutoApprove {
		logDetail(w, "自動承認", fmt.Sprintf("有効 (閾値: %v)", pc.Threshold))
	} else {
		logDetail(w, "自動承認", "無効")
	}
	if pc.FreeTier && pc.Limits != nil {
		logLine(w, colorCyan, "\n   💰 無料枠モード: API使用量を制限します")
		logDetail(w, "検索API制限", fmt.Sprintf("%d回/日", pc.Limits.SearchQueries))
		logDetail(w, "Gemini API制限", fmt.Sprintf("%d回/日", pc.Limits.LLMPerDay))
	}
	if pc.DryRun {
		logLine(w, colorYellow, "\n   ⚠️  ドライランモード: 実際の変更は行いません")
	}
}

func printSummary(w io.Writer, res *model.PipelineResult) {
	_, _ = fmt.Fprintln(w)
	logLine(w, colorBold, "📊 サマリー")
	s := res.Summary
	logDetail(w, "取得変数", fmt.Sprintf("%d/%d", s.FetchedVariables, s.TotalVariables))
	logDetail(w, "適用変数", fmt.Sprintf("%d", s.AppliedVariables))
	if s.Errors > 0 {
		logDetail(w, "エラー", fmt.Sprintf("%d", s.Errors))
	}
	if len(res.DraftIDs) > 0 {
		logDetail(w, "下書き", strings.Join(res.DraftIDs, ", "))
	}
	_, _ = fmt.Fprintf(w, "\n%s%s%s\n\n", colorBold, rule, colorReset)

	switch res.Status {
	case model.PipelineCompleted:
		logLine(w, colorGreen, "✅ パイプライン完了")
	case model.PipelineFailed:
		logLine(w, colorRed, "❌ パイプライン失敗")
	case model.PipelinePaused:
		logLine(w, colorYellow, "⏸️  パイプライン中断")
	}
}
