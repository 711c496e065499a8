package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/fetch"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/store"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchServiceVariables(ctx context.Context, muni model.MunicipalityMeta, serviceID string) *fetch.ServiceFetchResult {
	args := m.Called(ctx, muni, serviceID)
	return args.Get(0).(*fetch.ServiceFetchResult)
}

type fetchFunc func(ctx context.Context, serviceID string) *fetch.ServiceFetchResult

func (f fetchFunc) FetchServiceVariables(ctx context.Context, _ model.MunicipalityMeta, serviceID string) *fetch.ServiceFetchResult {
	return f(ctx, serviceID)
}

type fakeCatalog map[string]model.ServiceDefinition

func (c fakeCatalog) ServiceIDs() []string {
	return []string{"shimin", "gomi", "kosodate"}
}

func (c fakeCatalog) Service(id string) (model.ServiceDefinition, bool) {
	s, ok := c[id]
	return s, ok
}

var testCatalog = fakeCatalog{
	"shimin":   {ID: "shimin", Name: "住民票", Variables: []string{"juminhyo_fee", "inkan_fee", "madoguchi_hours"}},
	"gomi":     {ID: "gomi", Name: "ごみ", Variables: []string{"gomi_phone"}},
	"kosodate": {ID: "kosodate", Name: "子育て", Variables: []string{"jidou_teate"}},
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func variable(name, value string, conf float64) model.ExtractedVariable {
	return model.ExtractedVariable{
		VariableName: name,
		Value:        model.StrPtr(value),
		Confidence:   conf,
		SourceURL:    "https://www.city.kawasaki.jp/" + name,
		ExtractedAt:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Validated:    true,
	}
}

func shiminResult() *fetch.ServiceFetchResult {
	return &fetch.ServiceFetchResult{
		ServiceID: "shimin",
		Success:   true,
		Variables: []model.ExtractedVariable{
			variable("juminhyo_fee", "300円", 0.9),
			variable("madoguchi_hours", "8:30～17:15", 0.6),
			variable("inkan_fee", "詳細はお問い合わせください", 0.5),
		},
		MissingVariables: []string{},
	}
}

func gomiResult() *fetch.ServiceFetchResult {
	return &fetch.ServiceFetchResult{
		ServiceID:        "gomi",
		Success:          false,
		Errors:           []*model.Error{model.NewError(model.ErrSearchFailed, "brave: 503", true)},
		MissingVariables: []string{"gomi_phone"},
	}
}

type env struct {
	files  *store.FileStore
	drafts *drafts.Store
}

func newEnv(t *testing.T) env {
	t.Helper()
	fs := store.NewFileStore(t.TempDir(), nil)
	return env{files: fs, drafts: drafts.New(fs)}
}

func kawasaki() model.PipelineConfig {
	return model.PipelineConfig{
		MunicipalityID: "kawasaki",
		Name:           "川崎市",
		Prefecture:     "神奈川県",
		OfficialURL:    "https://www.city.kawasaki.jp",
		Services:       []string{"shimin", "gomi"},
	}
}

func (e env) pipeline(cfg model.PipelineConfig, f Fetcher, opts ...Option) *Pipeline {
	opts = append([]Option{WithDelays(0, 0)}, opts...)
	return New(cfg, testCatalog, f, e.files, e.drafts, opts...)
}

func collect(p *Pipeline) *[]model.PipelineEvent {
	var events []model.PipelineEvent
	p.OnEvent(func(ev model.PipelineEvent) { events = append(events, ev) })
	return &events
}

func stepStatuses(res *model.PipelineResult) []model.StepStatus {
	var out []model.StepStatus
	for _, s := range res.Steps {
		out = append(out, s.Status)
	}
	return out
}

func TestRun_Completed(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "shimin").Return(shiminResult()).Once()
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "gomi").Return(gomiResult()).Once()

	p := e.pipeline(kawasaki(), f)
	events := collect(p)
	res := p.Run(context.Background())

	f.AssertExpectations(t)
	assert.Equal(t, model.PipelineCompleted, res.Status)
	require.Len(t, res.Steps, 5)
	assert.Equal(t, []model.StepStatus{
		model.StepSuccess, model.StepSuccess, model.StepSuccess, model.StepWarning, model.StepSuccess,
	}, stepStatuses(res))
	assert.Equal(t, "自治体を作成: 川崎市", res.Steps[0].Message)
	assert.Equal(t, "2/4個の変数を取得", res.Steps[1].Message)
	assert.Equal(t, "2件の下書きを確認（0件自動承認）", res.Steps[2].Message)
	assert.NotNil(t, res.CompletedAt)
	assert.Empty(t, res.CurrentStep)

	assert.Equal(t, 2, res.Summary.TotalServices)
	assert.Equal(t, 1, res.Summary.FetchedServices)
	assert.Equal(t, 2, res.Summary.FetchedVariables)
	assert.Equal(t, 4, res.Summary.TotalVariables)
	assert.Equal(t, 0, res.Summary.AppliedVariables)
	assert.Equal(t, 1, res.Summary.Errors)
	assert.Equal(t, []string{"kawasaki-shimin", "kawasaki-gomi"}, res.DraftIDs)

	shimin, err := e.drafts.Get("kawasaki", "shimin")
	require.NoError(t, err)
	require.NotNil(t, shimin)
	assert.Equal(t, model.DraftStatusPendingReview, shimin.Status)
	assert.Len(t, shimin.Variables, 2)
	assert.Equal(t, []string{"inkan_fee"}, shimin.MissingVariables)

	gomi, err := e.drafts.Get("kawasaki", "gomi")
	require.NoError(t, err)
	require.NotNil(t, gomi)
	assert.Empty(t, gomi.Variables)
	assert.Equal(t, []string{"gomi_phone"}, gomi.MissingVariables)
	assert.Len(t, gomi.Errors, 1)

	meta, err := e.files.LoadMeta("kawasaki")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, model.MunicipalityPendingReview, meta.Status)
	assert.NotNil(t, meta.LastFetchAt)

	evs := *events
	require.NotEmpty(t, evs)
	assert.Equal(t, model.EventStepStart, evs[0].Type)
	assert.Equal(t, model.EventComplete, evs[len(evs)-1].Type)
	assert.Equal(t, "パイプライン完了: completed", evs[len(evs)-1].Message)
	var errEvents int
	for _, ev := range evs {
		assert.Equal(t, res.ID, ev.RunID)
		if ev.Type == model.EventError {
			errEvents++
		}
	}
	assert.Equal(t, 1, errEvents)
}

func TestRun_AutoApprove(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "shimin").Return(shiminResult())

	cfg := kawasaki()
	cfg.Services = []string{"shimin"}
	cfg.AutoApprove = true
	res := e.pipeline(cfg, f).Run(context.Background())

	assert.Equal(t, model.PipelineCompleted, res.Status)
	assert.Equal(t, "1件の下書きを確認（1件自動承認）", res.Steps[2].Message)
	assert.Equal(t, "1個の変数を適用", res.Steps[3].Message)
	assert.Equal(t, 1, res.Summary.AppliedVariables)

	d, err := e.drafts.Get("kawasaki", "shimin")
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusApproved, d.Status)
	assert.Equal(t, autoApprover, d.Metadata.ApprovedBy)

	vs, err := e.files.LoadVariables("kawasaki")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "300円", vs["juminhyo_fee"].Value)
	assert.Equal(t, model.SourceLLM, vs["juminhyo_fee"].Source)
	assert.NotContains(t, vs, "madoguchi_hours")

	meta, err := e.files.LoadMeta("kawasaki")
	require.NoError(t, err)
	assert.Equal(t, model.MunicipalityPublished, meta.Status)
	assert.Equal(t, "検証完了: 1個の変数が設定済み", res.Steps[4].Message)
}

func TestRun_AutoApproveBelowThreshold(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "shimin").Return(shiminResult())

	cfg := kawasaki()
	cfg.Services = []string{"shimin"}
	cfg.AutoApprove = true
	cfg.Threshold = 0.95
	res := e.pipeline(cfg, f).Run(context.Background())

	assert.Equal(t, model.PipelineCompleted, res.Status)
	assert.Equal(t, 0, res.Summary.AppliedVariables)
	d, err := e.drafts.Get("kawasaki", "shimin")
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusPendingReview, d.Status)
}

func TestRun_ExistingMunicipality(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.files.SaveMeta(&model.MunicipalityMeta{ID: "kawasaki", Name: "川崎市", Status: model.MunicipalityPublished}))
	require.NoError(t, e.files.SaveVariables("kawasaki", model.VariableStore{
		"gomi_phone": {Value: "044-200-2222", Source: model.SourceManual},
	}))
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "gomi").Return(gomiResult())

	cfg := kawasaki()
	cfg.Services = []string{"gomi"}
	res := e.pipeline(cfg, f).Run(context.Background())

	assert.Equal(t, "既存の自治体を使用: 川崎市", res.Steps[0].Message)
	assert.Equal(t, model.StepWarning, res.Steps[1].Status)
	assert.Equal(t, "検証完了: 1個の変数が設定済み", res.Steps[4].Message)
}

func TestRun_DryRun(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "shimin").Return(shiminResult())

	cfg := kawasaki()
	cfg.Services = []string{"shimin"}
	cfg.DryRun = true
	cfg.AutoApprove = true
	res := e.pipeline(cfg, f).Run(context.Background())

	assert.Equal(t, model.PipelineCompleted, res.Status)
	assert.Equal(t, model.StepSkipped, res.Steps[0].Status)
	assert.Equal(t, "ドライラン: 自治体作成をスキップ", res.Steps[0].Message)
	assert.Equal(t, model.StepSkipped, res.Steps[3].Status)
	assert.Equal(t, 2, res.Summary.FetchedVariables)
	assert.Empty(t, res.DraftIDs)

	meta, err := e.files.LoadMeta("kawasaki")
	require.NoError(t, err)
	assert.Nil(t, meta)
	list, err := e.drafts.List(drafts.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

type unreadableVariables struct {
	*store.FileStore
}

func (unreadableVariables) LoadVariables(string) (model.VariableStore, error) {
	return nil, errors.New("variables.json: permission denied")
}

func TestRun_ValidateLoadFailureStillSucceeds(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, "shimin").Return(shiminResult())

	cfg := kawasaki()
	cfg.Services = []string{"shimin"}
	cfg.DryRun = true
	p := New(cfg, testCatalog, f, unreadableVariables{e.files}, e.drafts, WithDelays(0, 0))
	res := p.Run(context.Background())

	assert.Equal(t, model.PipelineCompleted, res.Status)
	require.Len(t, res.Steps, 5)
	last := res.Steps[4]
	assert.Equal(t, model.StepValidate, last.Step)
	assert.Equal(t, model.StepSuccess, last.Status)
	assert.Equal(t, "検証完了: 変数を読み込めませんでした", last.Message)
	assert.Contains(t, last.Details["warning"], "permission denied")
}

func TestRun_FreeTierSkipsRemainingServices(t *testing.T) {
	e := newEnv(t)
	tracker := budget.New(model.FreeTierLimits{SearchQueries: 2}, true)
	var called []string
	f := fetchFunc(func(_ context.Context, id string) *fetch.ServiceFetchResult {
		called = append(called, id)
		require.NoError(t, tracker.UseSearch("brave"))
		require.NoError(t, tracker.UseSearch("brave"))
		return shiminResult()
	})

	cfg := kawasaki()
	cfg.Services = []string{"shimin", "gomi", "kosodate"}
	cfg.FreeTier = true
	p := e.pipeline(cfg, f, WithBudget(tracker))
	events := collect(p)
	res := p.Run(context.Background())

	assert.Equal(t, []string{"shimin"}, called)
	assert.Equal(t, 2, res.Summary.TotalServices)
	assert.Equal(t, 1, res.Summary.FetchedServices)
	fetchStep := res.Steps[1]
	assert.Equal(t, 1, fetchStep.Details["skippedServices"])
	assert.Contains(t, fetchStep.Message, "API: 検索2回, LLM0回")
	assert.Contains(t, fetchStep.Message, "1サービスをスキップ")

	var msgs []string
	for _, ev := range *events {
		msgs = append(msgs, ev.Message)
	}
	assert.Contains(t, msgs, "無料枠モード: サービス数を2件に制限")
	assert.Contains(t, msgs, "無料枠制限: 検索API制限に達したため残りのサービスをスキップ")
}

func TestRun_AbortPauses(t *testing.T) {
	e := newEnv(t)
	var p *Pipeline
	var called []string
	f := fetchFunc(func(_ context.Context, id string) *fetch.ServiceFetchResult {
		called = append(called, id)
		p.Abort()
		return shiminResult()
	})
	p = e.pipeline(kawasaki(), f)
	res := p.Run(context.Background())

	assert.Equal(t, model.PipelinePaused, res.Status)
	assert.Equal(t, []string{"shimin"}, called)
	require.Len(t, res.Steps, 2)
	assert.NotNil(t, res.CompletedAt)

	d, err := e.drafts.Get("kawasaki", "shimin")
	require.NoError(t, err)
	assert.NotNil(t, d, "work done before the abort is kept")
}

func TestRun_CancelledContextPauses(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.pipeline(kawasaki(), &mockFetcher{}).Run(ctx)

	assert.Equal(t, model.PipelinePaused, res.Status)
	assert.Empty(t, res.Steps)
}

func TestRun_PanicFailsRun(t *testing.T) {
	e := newEnv(t)
	f := fetchFunc(func(context.Context, string) *fetch.ServiceFetchResult {
		panic("boom")
	})
	p := e.pipeline(kawasaki(), f)
	events := collect(p)
	res := p.Run(context.Background())

	assert.Equal(t, model.PipelineFailed, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, model.StepError, res.Steps[1].Status)
	assert.Equal(t, model.StepFetch, res.Steps[1].Step)
	assert.Contains(t, res.Steps[1].Message, "パイプラインエラー")
	assert.Contains(t, res.Steps[1].Message, "boom")
	assert.Equal(t, 1, res.Summary.Errors)

	evs := *events
	assert.Equal(t, model.EventComplete, evs[len(evs)-1].Type)
}

func TestRun_ListenerPanicIgnored(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, mock.Anything).Return(shiminResult())

	p := e.pipeline(kawasaki(), f)
	p.OnEvent(func(model.PipelineEvent) { panic("listener") })
	res := p.Run(context.Background())

	assert.Equal(t, model.PipelineCompleted, res.Status)
}

func TestRun_RecordsHistory(t *testing.T) {
	e := newEnv(t)
	rs, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	require.NoError(t, rs.Migrate(context.Background()))

	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, mock.Anything).Return(shiminResult())
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	cfg := kawasaki()
	cfg.Services = []string{"shimin"}
	res := e.pipeline(cfg, f, WithRunStore(rs), WithMetrics(metrics)).Run(context.Background())

	got, err := rs.GetRun(context.Background(), res.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.PipelineCompleted, got.Status)
	assert.Len(t, got.Steps, 5)
	assert.Equal(t, model.StepFetch, got.Steps[1].Step)
	assert.Equal(t, []string{"kawasaki-shimin"}, got.DraftIDs)
	assert.Equal(t, 2, got.Summary.FetchedVariables)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.steps.WithLabelValues("fetch", "success")))
}

func TestPublishListener(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, mock.Anything).Return(shiminResult())
	pub := &fakePublisher{}

	cfg := kawasaki()
	cfg.Services = []string{"shimin"}
	p := e.pipeline(cfg, f)
	p.OnEvent(PublishListener(pub, "munivars.pipeline.events"))
	p.Run(context.Background())

	require.NotEmpty(t, pub.payloads)
	assert.Equal(t, "munivars.pipeline.events", pub.subjects[0])
	assert.Contains(t, string(pub.payloads[0]), `"type":"step_start"`)
	assert.Contains(t, string(pub.payloads[len(pub.payloads)-1]), `"type":"complete"`)
}

func TestPublishListener_ErrorDoesNotFailRun(t *testing.T) {
	e := newEnv(t)
	f := &mockFetcher{}
	f.On("FetchServiceVariables", mock.Anything, mock.Anything, mock.Anything).Return(shiminResult())
	pub := &fakePublisher{err: errors.New("nats: connection closed")}

	p := e.pipeline(kawasaki(), f)
	p.OnEvent(PublishListener(pub, "events"))
	res := p.Run(context.Background())

	assert.Equal(t, model.PipelineCompleted, res.Status)
	assert.NotEmpty(t, pub.subjects)
}
