package model

import "time"

// Priority ranks how important a variable is to a service page.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ValidationKind selects the format validator applied to a variable value.
type ValidationKind string

const (
	KindPhone   ValidationKind = "phone"
	KindEmail   ValidationKind = "email"
	KindURL     ValidationKind = "url"
	KindFee     ValidationKind = "fee"
	KindDate    ValidationKind = "date"
	KindTime    ValidationKind = "time"
	KindPercent ValidationKind = "percent"
	KindPostal  ValidationKind = "postal"
	KindCount   ValidationKind = "count"
	KindText    ValidationKind = "text"
)

// VariableDefinition is static reference data describing one variable.
type VariableDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Category    string         `json:"category,omitempty" yaml:"category"`
	Priority    Priority       `json:"priority,omitempty" yaml:"priority"`
	Kind        ValidationKind `json:"kind,omitempty" yaml:"kind"`
	Examples    []string       `json:"examples,omitempty" yaml:"examples"`
}

// ServiceDefinition groups the variables one administrative service owns.
type ServiceDefinition struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Variables      []string `json:"variables" yaml:"variables"`
	SearchKeywords []string `json:"searchKeywords" yaml:"search_keywords"`
}

// ExtractedVariable is the result of one extraction attempt. Value is nil
// when the extractor found nothing.
type ExtractedVariable struct {
	VariableName    string    `json:"variableName"`
	Value           *string   `json:"value"`
	Confidence      float64   `json:"confidence"`
	SourceURL       string    `json:"sourceUrl"`
	ExtractedAt     time.Time `json:"extractedAt"`
	Validated       bool      `json:"validated,omitempty"`
	ValidationError string    `json:"validationError,omitempty"`
}

// HasValue reports whether the extraction produced a non-empty value.
func (v ExtractedVariable) HasValue() bool {
	return v.Value != nil && *v.Value != ""
}

// StringValue returns the value or "" when nil.
func (v ExtractedVariable) StringValue() string {
	if v.Value == nil {
		return ""
	}
	return *v.Value
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}

// AttemptReason explains why a variable could not be resolved.
type AttemptReason string

const (
	ReasonNotFound         AttemptReason = "not_found"
	ReasonNoMatch          AttemptReason = "no_match"
	ReasonLowConfidence    AttemptReason = "low_confidence"
	ReasonValidationFailed AttemptReason = "validation_failed"
)

// SearchAttempt is an audit record for a variable that failed to resolve.
type SearchAttempt struct {
	Query        string        `json:"query"`
	SearchedAt   time.Time     `json:"searchedAt"`
	ResultsCount int           `json:"resultsCount"`
	URLs         []string      `json:"urls,omitempty"`
	Snippets     []string      `json:"snippets,omitempty"`
	Reason       AttemptReason `json:"reason"`
}
