package model

import "time"

// DraftStatus is the review state of a draft.
type DraftStatus string

const (
	DraftStatusDraft         DraftStatus = "draft"
	DraftStatusPendingReview DraftStatus = "pending_review"
	DraftStatusApproved      DraftStatus = "approved"
	DraftStatusRejected      DraftStatus = "rejected"
)

// Valid reports whether s is a known draft status.
func (s DraftStatus) Valid() bool {
	switch s {
	case DraftStatusDraft, DraftStatusPendingReview, DraftStatusApproved, DraftStatusRejected:
		return true
	}
	return false
}

// SuggestionStatus tracks what the operator did with a missing suggestion.
type SuggestionStatus string

const (
	SuggestionSuggested SuggestionStatus = "suggested"
	SuggestionAccepted  SuggestionStatus = "accepted"
	SuggestionRejected  SuggestionStatus = "rejected"
)

// DraftVariableEntry is one staged variable value.
type DraftVariableEntry struct {
	Value           string    `json:"value"`
	SourceURL       string    `json:"sourceUrl"`
	Confidence      float64   `json:"confidence"`
	ExtractedAt     time.Time `json:"extractedAt"`
	Validated       bool      `json:"validated"`
	ValidationError string    `json:"validationError,omitempty"`
}

// MissingSuggestion is an LLM-proposed fallback for an unresolved variable.
type MissingSuggestion struct {
	VariableName       string           `json:"variableName"`
	Reason             string           `json:"reason"`
	SuggestedValue     string           `json:"suggestedValue,omitempty"`
	SuggestedSourceURL string           `json:"suggestedSourceUrl,omitempty"`
	RelatedURLs        []string         `json:"relatedUrls,omitempty"`
	RelatedPDFs        []string         `json:"relatedPdfs,omitempty"`
	Confidence         float64          `json:"confidence"`
	Status             SuggestionStatus `json:"status"`
}

// DraftMetadata holds counts and the approval audit trail.
type DraftMetadata struct {
	TotalVariables  int        `json:"totalVariables"`
	FilledVariables int        `json:"filledVariables"`
	ApprovedBy      string     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// Draft is a staged snapshot of fetched variables for one municipality and
// service. A variable name is never in both Variables and MissingVariables.
type Draft struct {
	ID                 string                        `json:"id"`
	MunicipalityID     string                        `json:"municipalityId"`
	Service            string                        `json:"service"`
	Status             DraftStatus                   `json:"status"`
	Variables          map[string]DraftVariableEntry `json:"variables"`
	MissingVariables   []string                      `json:"missingVariables"`
	SearchAttempts     map[string][]SearchAttempt    `json:"searchAttempts,omitempty"`
	MissingSuggestions map[string]MissingSuggestion  `json:"missingSuggestions,omitempty"`
	PDFLeads           []string                      `json:"pdfLeads,omitempty"`
	Errors             []string                      `json:"errors"`
	Metadata           DraftMetadata                 `json:"metadata"`
	CreatedAt          time.Time                     `json:"createdAt"`
	UpdatedAt          time.Time                     `json:"updatedAt"`
}

// DraftSummary is the list view of a draft.
type DraftSummary struct {
	ID              string      `json:"id"`
	MunicipalityID  string      `json:"municipalityId"`
	Service         string      `json:"service"`
	Status          DraftStatus `json:"status"`
	TotalVariables  int         `json:"totalVariables"`
	FilledVariables int         `json:"filledVariables"`
	MissingCount    int         `json:"missingCount"`
	ErrorCount      int         `json:"errorCount"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// DraftStatistics aggregates drafts by status and municipality.
type DraftStatistics struct {
	Total          int                 `json:"total"`
	ByStatus       map[DraftStatus]int `json:"byStatus"`
	ByMunicipality map[string]int      `json:"byMunicipality"`
}

// DiffType classifies a variable when comparing a draft to the store.
type DiffType string

const (
	DiffAdded     DiffType = "added"
	DiffModified  DiffType = "modified"
	DiffRemoved   DiffType = "removed"
	DiffUnchanged DiffType = "unchanged"
)

// DraftDiffEntry is the comparison result for one variable.
type DraftDiffEntry struct {
	VariableName string   `json:"variableName"`
	Type         DiffType `json:"type"`
	OldValue     *string  `json:"oldValue"`
	NewValue     *string  `json:"newValue"`
	Confidence   float64  `json:"confidence,omitempty"`
	SourceURL    string   `json:"sourceUrl,omitempty"`
}

// DraftComparison is a draft diffed against the live variable store.
type DraftComparison struct {
	DraftID        string           `json:"draftId"`
	MunicipalityID string           `json:"municipalityId"`
	Service        string           `json:"service"`
	Entries        []DraftDiffEntry `json:"entries"`
	Added          int              `json:"added"`
	Modified       int              `json:"modified"`
	Removed        int              `json:"removed"`
	Unchanged      int              `json:"unchanged"`
}
