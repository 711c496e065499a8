package model

import "time"

// VariableSource records who wrote a published variable.
type VariableSource string

const (
	SourceManual  VariableSource = "manual"
	SourceLLM     VariableSource = "llm"
	SourceDefault VariableSource = "default"
)

// VariableValue is one published variable.
type VariableValue struct {
	Value      string         `json:"value"`
	Source     VariableSource `json:"source"`
	SourceURL  string         `json:"sourceUrl,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// VariableStore is the published variable set of one municipality.
type VariableStore map[string]VariableValue

// Clone returns a shallow copy of the store.
func (s VariableStore) Clone() VariableStore {
	out := make(VariableStore, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Filled counts entries with a non-empty value.
func (s VariableStore) Filled() int {
	n := 0
	for _, v := range s {
		if v.Value != "" {
			n++
		}
	}
	return n
}

// MunicipalityStatus is the lifecycle state of a municipality.
type MunicipalityStatus string

const (
	MunicipalityDraft         MunicipalityStatus = "draft"
	MunicipalityFetching      MunicipalityStatus = "fetching"
	MunicipalityPendingReview MunicipalityStatus = "pending_review"
	MunicipalityPublished     MunicipalityStatus = "published"
	MunicipalityError         MunicipalityStatus = "error"
)

// MunicipalityMeta describes a municipality.
type MunicipalityMeta struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Prefecture  string             `json:"prefecture"`
	OfficialURL string             `json:"officialUrl,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	LastFetchAt *time.Time         `json:"lastFetchAt,omitempty"`
	Status      MunicipalityStatus `json:"status"`
}
