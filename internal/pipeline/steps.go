package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/fetch"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/validate"
)

const autoApprover = "auto-approve"

func (p *Pipeline) municipality() model.MunicipalityMeta {
	return model.MunicipalityMeta{
		ID:          p.cfg.MunicipalityID,
		Name:        p.cfg.Name,
		Prefecture:  p.cfg.Prefecture,
		OfficialURL: p.cfg.OfficialURL,
	}
}

func (p *Pipeline) stepCreate(_ context.Context) (model.StepResult, error) {
	p.emit(model.EventStepStart, model.StepCreate, fmt.Sprintf("自治体「%s」を確認中...", p.cfg.Name), nil)

	existing, err := p.docs.LoadMeta(p.cfg.MunicipalityID)
	if err != nil {
		return model.StepResult{}, eris.Wrap(err, "pipeline: load municipality")
	}
	if existing != nil {
		return model.StepResult{
			Status:  model.StepSuccess,
			Message: "既存の自治体を使用: " + existing.Name,
			Details: map[string]any{"id": existing.ID, "name": existing.Name},
		}, nil
	}
	if p.cfg.DryRun {
		return model.StepResult{Status: model.StepSkipped, Message: "ドライラン: 自治体作成をスキップ"}, nil
	}

	now := p.now()
	meta := p.municipality()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.Status = model.MunicipalityDraft
	if err := p.docs.SaveMeta(&meta); err != nil {
		return model.StepResult{}, eris.Wrap(err, "pipeline: create municipality")
	}
	if err := p.docs.SaveVariables(meta.ID, model.VariableStore{}); err != nil {
		return model.StepResult{}, eris.Wrap(err, "pipeline: create variable store")
	}
	return model.StepResult{
		Status:  model.StepSuccess,
		Message: "自治体を作成: " + meta.Name,
		Details: map[string]any{"id": meta.ID, "name": meta.Name},
	}, nil
}

// scope returns the services the run covers.
func (p *Pipeline) scope() []string {
	if p.services == nil {
		if len(p.cfg.Services) > 0 {
			p.services = p.cfg.Services
		} else {
			p.services = p.catalog.ServiceIDs()
		}
	}
	return p.services
}

func (p *Pipeline) serviceName(id string) string {
	if svc, ok := p.catalog.Service(id); ok && svc.Name != "" {
		return svc.Name
	}
	return id
}

func (p *Pipeline) setMetaStatus(status model.MunicipalityStatus, fetched bool) {
	if p.cfg.DryRun {
		return
	}
	meta, err := p.docs.LoadMeta(p.cfg.MunicipalityID)
	if err != nil || meta == nil {
		if err != nil {
			zap.L().Warn("pipeline: load municipality", zap.Error(err))
		}
		return
	}
	now := p.now()
	meta.Status = status
	meta.UpdatedAt = now
	if fetched {
		meta.LastFetchAt = &now
	}
	if err := p.docs.SaveMeta(meta); err != nil {
		zap.L().Warn("pipeline: save municipality status", zap.String("status", string(status)), zap.Error(err))
	}
}

func (p *Pipeline) stepFetch(ctx context.Context) (model.StepResult, error) {
	p.emit(model.EventStepStart, model.StepFetch, "情報を取得中...", nil)

	services := p.scope()
	if limit := p.budget.MaxServices(); limit > 0 && len(services) > limit {
		p.emit(model.EventProgress, model.StepFetch, fmt.Sprintf("無料枠モード: サービス数を%d件に制限", limit), nil)
		services = services[:limit]
	}
	p.result.Summary.TotalServices = len(services)

	delay := p.serviceDelay
	if p.cfg.FreeTier {
		delay = p.freeTierDelay
	}

	p.setMetaStatus(model.MunicipalityFetching, false)
	muni := p.municipality()

	var fetched, total, skipped, failed int
	for i, id := range services {
		if p.stopped(ctx) {
			break
		}
		if exhausted, kind := p.budget.Exhausted(); exhausted {
			skipped = len(services) - i
			p.emit(model.EventProgress, model.StepFetch,
				fmt.Sprintf("無料枠制限: %sAPI制限に達したため残りのサービスをスキップ", quotaLabel(kind)), nil)
			break
		}

		name := p.serviceName(id)
		p.emit(model.EventProgress, model.StepFetch, name+"の情報を取得中...", &model.Progress{Current: i, Total: len(services)})

		res := p.fetcher.FetchServiceVariables(ctx, muni, id)
		concrete := concreteVariables(res)
		fetched += len(concrete)
		if svc, ok := p.catalog.Service(id); ok {
			total += len(svc.Variables)
		}

		switch {
		case !res.Success:
			failed++
			p.result.Summary.Errors++
			p.emit(model.EventError, model.StepFetch, fmt.Sprintf("%s: %s", name, joinErrors(res)), nil)
		case len(res.Errors) > 0:
			p.result.Summary.Warnings++
			p.result.Summary.FetchedServices++
		default:
			p.result.Summary.FetchedServices++
		}

		if !p.cfg.DryRun {
			if err := p.saveDraft(id, res, concrete); err != nil {
				return model.StepResult{}, err
			}
		}

		if i < len(services)-1 {
			if err := p.sleep(ctx, delay); err != nil {
				break
			}
		}
	}
	p.emit(model.EventProgress, model.StepFetch, "取得完了", &model.Progress{Current: len(services) - skipped, Total: len(services)})

	p.result.Summary.TotalVariables = total
	p.result.Summary.FetchedVariables = fetched
	p.setMetaStatus(model.MunicipalityPendingReview, true)

	details := map[string]any{"fetched": fetched, "total": total, "failedServices": failed}
	msg := fmt.Sprintf("%d/%d個の変数を取得", fetched, total)
	if p.cfg.FreeTier {
		u := p.budget.Usage()
		details["apiUsage"] = map[string]any{"searchQueries": u.SearchCalls, "llmRequests": u.LLMCalls}
		details["skippedServices"] = skipped
		msg += fmt.Sprintf(" (API: 検索%d回, LLM%d回", u.SearchCalls, u.LLMCalls)
		if skipped > 0 {
			msg += fmt.Sprintf(", %dサービスをスキップ", skipped)
		}
		msg += ")"
	}
	status := model.StepSuccess
	if fetched == 0 {
		status = model.StepWarning
	}
	return model.StepResult{Status: status, Message: msg, Details: details}, nil
}

func quotaLabel(kind string) string {
	if kind == budget.KindLLM {
		return "Gemini "
	}
	return "検索"
}

// concreteVariables keeps resolved values that pass the concreteness check.
func concreteVariables(res *fetch.ServiceFetchResult) []model.ExtractedVariable {
	var out []model.ExtractedVariable
	for _, v := range res.Variables {
		if v.HasValue() && validate.IsConcrete(v.VariableName, v.Value) {
			out = append(out, v)
		}
	}
	return out
}

func joinErrors(res *fetch.ServiceFetchResult) string {
	msgs := res.ErrorMessages()
	if len(msgs) == 0 {
		return "取得失敗"
	}
	return msgs[0]
}

// saveDraft files concrete values under Variables and every other variable
// of the service under MissingVariables.
func (p *Pipeline) saveDraft(serviceID string, res *fetch.ServiceFetchResult, concrete []model.ExtractedVariable) error {
	vars := make(map[string]model.DraftVariableEntry, len(concrete))
	for _, v := range concrete {
		vars[v.VariableName] = model.DraftVariableEntry{
			Value:           *v.Value,
			SourceURL:       v.SourceURL,
			Confidence:      v.Confidence,
			ExtractedAt:     v.ExtractedAt,
			Validated:       v.ValidationError == "",
			ValidationError: v.ValidationError,
		}
	}
	var names []string
	if svc, ok := p.catalog.Service(serviceID); ok {
		names = svc.Variables
	}
	names = append(names, res.MissingVariables...)
	for _, v := range res.Variables {
		names = append(names, v.VariableName)
	}
	var missing []string
	for _, n := range names {
		if _, ok := vars[n]; !ok {
			missing = append(missing, n)
		}
	}

	d, err := p.drafts.Create(p.cfg.MunicipalityID, serviceID, drafts.Input{
		Variables:          vars,
		MissingVariables:   missing,
		SearchAttempts:     res.SearchAttempts,
		MissingSuggestions: res.MissingSuggestions,
		PDFLeads:           res.PDFLinks,
		Errors:             res.ErrorMessages(),
	})
	if err != nil {
		return eris.Wrapf(err, "pipeline: save draft for %s", serviceID)
	}
	p.drafted = append(p.drafted, serviceID)
	p.result.DraftIDs = append(p.result.DraftIDs, d.ID)
	return nil
}

func (p *Pipeline) meetsThreshold(e model.DraftVariableEntry) bool {
	return e.Confidence >= p.cfg.Threshold
}

// stepReview moves the drafts written by this run to pending_review, or
// approves those with at least one confident value under auto-approve.
func (p *Pipeline) stepReview(_ context.Context) (model.StepResult, error) {
	p.emit(model.EventStepStart, model.StepReview, "下書きを確認中...", nil)

	var reviewed, approved int
	for _, id := range p.drafted {
		d, err := p.drafts.Get(p.cfg.MunicipalityID, id)
		if err != nil {
			return model.StepResult{}, eris.Wrapf(err, "pipeline: load draft %s", id)
		}
		if d == nil {
			continue
		}
		reviewed++

		status, actor := model.DraftStatusPendingReview, ""
		if p.cfg.AutoApprove {
			for _, e := range d.Variables {
				if p.meetsThreshold(e) {
					status, actor = model.DraftStatusApproved, autoApprover
					break
				}
			}
		}
		if status == model.DraftStatusApproved {
			approved++
		}
		if _, err := p.drafts.UpdateStatus(p.cfg.MunicipalityID, id, status, actor, ""); err != nil {
			return model.StepResult{}, eris.Wrapf(err, "pipeline: update draft %s", id)
		}
	}
	return model.StepResult{
		Status:  model.StepSuccess,
		Message: fmt.Sprintf("%d件の下書きを確認（%d件自動承認）", reviewed, approved),
		Details: map[string]any{"reviewed": reviewed, "autoApproved": approved},
	}, nil
}

// stepApply merges approved drafts into the published store. Under
// auto-approve only values at or above the threshold are merged.
func (p *Pipeline) stepApply(_ context.Context) (model.StepResult, error) {
	p.emit(model.EventStepStart, model.StepApply, "変数を適用中...", nil)

	if p.cfg.DryRun {
		return model.StepResult{Status: model.StepSkipped, Message: "ドライラン: 変数適用をスキップ"}, nil
	}

	vs, err := p.docs.LoadVariables(p.cfg.MunicipalityID)
	if err != nil {
		return model.StepResult{}, eris.Wrap(err, "pipeline: load variables")
	}

	var keep func(string, model.DraftVariableEntry) bool
	if p.cfg.AutoApprove {
		keep = func(_ string, e model.DraftVariableEntry) bool { return p.meetsThreshold(e) }
	}

	applied := 0
	now := p.now()
	for _, id := range p.drafted {
		d, err := p.drafts.Get(p.cfg.MunicipalityID, id)
		if err != nil {
			return model.StepResult{}, eris.Wrapf(err, "pipeline: load draft %s", id)
		}
		if d == nil || d.Status != model.DraftStatusApproved {
			continue
		}
		for name, e := range d.Variables {
			if e.Value != "" && (keep == nil || keep(name, e)) {
				applied++
			}
		}
		vs = drafts.ApplyFiltered(d, vs, now, keep)
	}

	if applied > 0 {
		if err := p.docs.SaveVariables(p.cfg.MunicipalityID, vs); err != nil {
			return model.StepResult{}, eris.Wrap(err, "pipeline: save variables")
		}
		p.setMetaStatus(model.MunicipalityPublished, false)
	}
	p.result.Summary.AppliedVariables = applied

	status := model.StepSuccess
	if applied == 0 {
		status = model.StepWarning
	}
	return model.StepResult{
		Status:  status,
		Message: fmt.Sprintf("%d個の変数を適用", applied),
		Details: map[string]any{"applied": applied},
	}, nil
}

// stepValidate counts filled published variables. It never fails the run
// on what it finds.
func (p *Pipeline) stepValidate(_ context.Context) (model.StepResult, error) {
	p.emit(model.EventStepStart, model.StepValidate, "結果を検証中...", nil)

	vs, err := p.docs.LoadVariables(p.cfg.MunicipalityID)
	if err != nil {
		zap.L().Warn("pipeline: validate could not load variables",
			zap.String("municipality", p.cfg.MunicipalityID), zap.Error(err))
		return model.StepResult{
			Status:  model.StepSuccess,
			Message: "検証完了: 変数を読み込めませんでした",
			Details: map[string]any{"warning": err.Error()},
		}, nil
	}
	filled := vs.Filled()
	return model.StepResult{
		Status:  model.StepSuccess,
		Message: fmt.Sprintf("検証完了: %d個の変数が設定済み", filled),
		Details: map[string]any{"filled": filled, "total": len(vs)},
	}, nil
}
