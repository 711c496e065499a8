// Package pipeline runs the five-step acquisition workflow for one
// municipality: create, fetch, review, apply and validate.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/fetch"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/store"
)

// DefaultThreshold is the auto-approve confidence threshold.
const DefaultThreshold = 0.8

// Fetcher resolves the variables of one service.
type Fetcher interface {
	FetchServiceVariables(ctx context.Context, muni model.MunicipalityMeta, serviceID string) *fetch.ServiceFetchResult
}

// Catalog lists the services a run covers by default.
type Catalog interface {
	ServiceIDs() []string
	Service(id string) (model.ServiceDefinition, bool)
}

// Documents persists municipality metadata and published variables.
// store.FileStore implements it.
type Documents interface {
	LoadMeta(muni string) (*model.MunicipalityMeta, error)
	SaveMeta(m *model.MunicipalityMeta) error
	LoadVariables(muni string) (model.VariableStore, error)
	SaveVariables(muni string, vs model.VariableStore) error
}

// Listener receives pipeline events.
type Listener func(model.PipelineEvent)

// Pipeline executes one run. It is not reusable.
type Pipeline struct {
	cfg     model.PipelineConfig
	catalog Catalog
	fetcher Fetcher
	docs    Documents
	drafts  *drafts.Store
	budget  *budget.Tracker
	runs    store.RunStore
	metrics *Metrics

	listeners     []Listener
	aborted       atomic.Bool
	serviceDelay  time.Duration
	freeTierDelay time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error

	result   *model.PipelineResult
	services []string
	drafted  []string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBudget sets the tracker consulted before each service.
func WithBudget(t *budget.Tracker) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.budget = t
		}
	}
}

// WithRunStore records the run and its steps.
func WithRunStore(rs store.RunStore) Option {
	return func(p *Pipeline) { p.runs = rs }
}

// WithMetrics exports run and step metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithDelays sets the pause between services, normally and in free-tier mode.
func WithDelays(normal, freeTier time.Duration) Option {
	return func(p *Pipeline) {
		p.serviceDelay = normal
		p.freeTierDelay = freeTier
	}
}

// New creates a Pipeline for cfg. A zero threshold becomes DefaultThreshold.
func New(cfg model.PipelineConfig, cat Catalog, f Fetcher, docs Documents, ds *drafts.Store, opts ...Option) *Pipeline {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	p := &Pipeline{
		cfg:           cfg,
		catalog:       cat,
		fetcher:       f,
		docs:          docs,
		drafts:        ds,
		budget:        budget.Unlimited(),
		serviceDelay:  time.Second,
		freeTierDelay: 2 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
		sleep:         sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	p.result = &model.PipelineResult{
		ID:     uuid.New().String(),
		Config: cfg,
		Status: model.PipelinePending,
		Steps:  []model.StepResult{},
	}
	return p
}

// ID returns the run id.
func (p *Pipeline) ID() string { return p.result.ID }

// OnEvent registers a listener. Listeners run synchronously; a panicking
// listener is logged and skipped.
func (p *Pipeline) OnEvent(l Listener) {
	p.listeners = append(p.listeners, l)
}

// Abort stops the run at the next step or service boundary. Work already
// written is kept.
func (p *Pipeline) Abort() {
	p.aborted.Store(true)
}

func (p *Pipeline) stopped(ctx context.Context) bool {
	return p.aborted.Load() || ctx.Err() != nil
}

type stepFunc func(ctx context.Context) (model.StepResult, error)

// Run executes the steps in order and returns the final result. A step
// error or panic fails the run; an abort pauses it.
func (p *Pipeline) Run(ctx context.Context) *model.PipelineResult {
	log := zap.L().With(zap.String("run_id", p.result.ID), zap.String("municipality", p.cfg.MunicipalityID))
	p.result.Status = model.PipelineRunning
	p.result.StartedAt = p.now()
	if p.runs != nil {
		if err := p.runs.CreateRun(ctx, p.result); err != nil {
			log.Warn("pipeline: failed to record run", zap.Error(err))
		}
	}
	log.Info("pipeline: starting", zap.Bool("dry_run", p.cfg.DryRun), zap.Bool("free_tier", p.cfg.FreeTier))
	p.emit(model.EventStepStart, "", "パイプラインを開始します", nil)

	steps := []struct {
		step model.PipelineStep
		fn   stepFunc
	}{
		{model.StepCreate, p.stepCreate},
		{model.StepFetch, p.stepFetch},
		{model.StepReview, p.stepReview},
		{model.StepApply, p.stepApply},
		{model.StepValidate, p.stepValidate},
	}

	for _, s := range steps {
		if p.stopped(ctx) {
			p.result.Status = model.PipelinePaused
			break
		}
		if err := p.runStep(ctx, s.step, s.fn); err != nil {
			p.result.Status = model.PipelineFailed
			log.Error("pipeline: step failed", zap.String("step", string(s.step)), zap.Error(err))
			break
		}
	}
	if p.result.Status == model.PipelineRunning {
		if p.stopped(ctx) {
			p.result.Status = model.PipelinePaused
		} else {
			p.result.Status = model.PipelineCompleted
		}
	}
	return p.finalize(ctx, log)
}

// runStep times fn, converts a panic into an error and records the step.
func (p *Pipeline) runStep(ctx context.Context, step model.PipelineStep, fn stepFunc) (err error) {
	p.result.CurrentStep = step
	start := time.Now()
	var res model.StepResult

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: panic in %s step: %v", step, r)
		}
		if err != nil {
			res = model.StepResult{
				Status:  model.StepError,
				Message: fmt.Sprintf("パイプラインエラー: %v", err),
				Details: res.Details,
			}
		}
		res.Step = step
		res.DurationMS = time.Since(start).Milliseconds()
		p.record(ctx, res)
	}()

	res, err = fn(ctx)
	return err
}

func (p *Pipeline) record(ctx context.Context, res model.StepResult) {
	switch res.Status {
	case model.StepError:
		p.result.Summary.Errors++
	case model.StepWarning:
		p.result.Summary.Warnings++
	}
	seq := len(p.result.Steps)
	p.result.Steps = append(p.result.Steps, res)
	p.metrics.observeStep(res)

	zap.L().Info("pipeline: step complete",
		zap.String("run_id", p.result.ID),
		zap.String("step", string(res.Step)),
		zap.String("status", string(res.Status)),
		zap.Int64("duration_ms", res.DurationMS),
	)
	if p.runs != nil {
		if err := p.runs.AppendStep(ctx, p.result.ID, seq, res); err != nil {
			zap.L().Warn("pipeline: failed to record step", zap.String("step", string(res.Step)), zap.Error(err))
		}
	}
	p.emit(model.EventStepComplete, res.Step, res.Message, nil)
}

func (p *Pipeline) finalize(ctx context.Context, log *zap.Logger) *model.PipelineResult {
	done := p.now()
	p.result.CompletedAt = &done
	p.result.CurrentStep = ""
	p.metrics.observeRun(p.result.Status)

	if p.runs != nil {
		// The run is recorded even when ctx was cancelled.
		if err := p.runs.FinishRun(context.WithoutCancel(ctx), p.result); err != nil {
			log.Warn("pipeline: failed to finish run record", zap.Error(err))
		}
	}
	log.Info("pipeline: finished",
		zap.String("status", string(p.result.Status)),
		zap.Int("fetched_variables", p.result.Summary.FetchedVariables),
		zap.Int("applied_variables", p.result.Summary.AppliedVariables),
		zap.Int("errors", p.result.Summary.Errors),
	)
	p.emit(model.EventComplete, "", fmt.Sprintf("パイプライン完了: %s", p.result.Status), nil)
	return p.result
}

func (p *Pipeline) emit(t model.EventType, step model.PipelineStep, msg string, progress *model.Progress) {
	ev := model.PipelineEvent{
		RunID:     p.result.ID,
		Type:      t,
		Step:      step,
		Message:   msg,
		Progress:  progress,
		Timestamp: p.now(),
	}
	for _, l := range p.listeners {
		callListener(l, ev)
	}
}

func callListener(l Listener, ev model.PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: event listener panicked", zap.Any("panic", r))
		}
	}()
	l(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
