package model

import "time"

// PipelineStep names one stage of a pipeline run.
type PipelineStep string

const (
	StepCreate   PipelineStep = "create"
	StepFetch    PipelineStep = "fetch"
	StepReview   PipelineStep = "review"
	StepApply    PipelineStep = "apply"
	StepValidate PipelineStep = "validate"
)

// AllPipelineSteps returns the steps in execution order.
func AllPipelineSteps() []PipelineStep {
	return []PipelineStep{StepCreate, StepFetch, StepReview, StepApply, StepValidate}
}

// PipelineStatus is the overall state of a run.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelinePaused    PipelineStatus = "paused"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepWarning StepStatus = "warning"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// FreeTierLimits caps external API usage in free-tier mode.
type FreeTierLimits struct {
	SearchQueries      int `json:"searchQueries" mapstructure:"search_queries" yaml:"search_queries"`
	LLMPerMinute       int `json:"llmPerMinute" mapstructure:"llm_per_minute" yaml:"llm_per_minute"`
	LLMPerDay          int `json:"llmPerDay" mapstructure:"llm_per_day" yaml:"llm_per_day"`
	MaxPagesPerService int `json:"maxPagesPerService" mapstructure:"max_pages_per_service" yaml:"max_pages_per_service"`
}

// PipelineConfig describes one pipeline run.
type PipelineConfig struct {
	MunicipalityID string          `json:"municipalityId"`
	Name           string          `json:"name"`
	Prefecture     string          `json:"prefecture"`
	OfficialURL    string          `json:"officialUrl,omitempty"`
	Services       []string        `json:"services,omitempty"`
	AutoApprove    bool            `json:"autoApprove"`
	Threshold      float64         `json:"threshold"`
	DryRun         bool            `json:"dryRun"`
	FreeTier       bool            `json:"freeTier"`
	Limits         *FreeTierLimits `json:"limits,omitempty"`
}

// StepResult records the outcome of one step.
type StepResult struct {
	Step       PipelineStep   `json:"step"`
	Status     StepStatus     `json:"status"`
	Message    string         `json:"message"`
	DurationMS int64          `json:"durationMs"`
	Details    map[string]any `json:"details,omitempty"`
}

// PipelineSummary is the running tally of a run.
type PipelineSummary struct {
	TotalServices    int `json:"totalServices"`
	FetchedServices  int `json:"fetchedServices"`
	TotalVariables   int `json:"totalVariables"`
	FetchedVariables int `json:"fetchedVariables"`
	AppliedVariables int `json:"appliedVariables"`
	Errors           int `json:"errors"`
	Warnings         int `json:"warnings"`
}

// PipelineResult is a run descriptor and its append-only step log.
type PipelineResult struct {
	ID          string          `json:"id"`
	Config      PipelineConfig  `json:"config"`
	Status      PipelineStatus  `json:"status"`
	CurrentStep PipelineStep    `json:"currentStep,omitempty"`
	Steps       []StepResult    `json:"steps"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Summary     PipelineSummary `json:"summary"`
	DraftIDs    []string        `json:"draftIds,omitempty"`
}

// EventType classifies pipeline events.
type EventType string

const (
	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
	EventProgress     EventType = "progress"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
)

// Progress is a current/total counter attached to progress events.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// PipelineEvent is emitted to listeners while a run executes.
type PipelineEvent struct {
	RunID     string       `json:"runId"`
	Type      EventType    `json:"type"`
	Step      PipelineStep `json:"step,omitempty"`
	Message   string       `json:"message"`
	Progress  *Progress    `json:"progress,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
