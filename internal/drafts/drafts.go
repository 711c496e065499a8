// Package drafts stages fetched variables for review. A draft is keyed by
// municipality and service; creating one replaces any previous draft.
package drafts

import (
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/model"
)

// Backend persists draft documents. store.FileStore implements it.
type Backend interface {
	SaveDraft(d *model.Draft) error
	GetDraft(muni, service string) (*model.Draft, error)
	ListDrafts() ([]model.Draft, error)
	DeleteDraft(muni, service string) (bool, error)
}

// Store applies draft lifecycle operations on top of a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
}

// New creates a Store.
func New(b Backend) *Store {
	return &Store{backend: b, now: func() time.Time { return time.Now().UTC() }}
}

// ID returns the draft id for a municipality and service.
func ID(muni, service string) string {
	return muni + "-" + service
}

// Input is the content of a new draft.
type Input struct {
	Variables          map[string]model.DraftVariableEntry
	MissingVariables   []string
	SearchAttempts     map[string][]model.SearchAttempt
	MissingSuggestions map[string]model.MissingSuggestion
	PDFLeads           []string
	Errors             []string
}

// Create writes a fresh draft, replacing any existing one. Names present
// in Variables are dropped from MissingVariables.
func (s *Store) Create(muni, service string, in Input) (*model.Draft, error) {
	now := s.now()
	vars := in.Variables
	if vars == nil {
		vars = map[string]model.DraftVariableEntry{}
	}
	missing := make([]string, 0, len(in.MissingVariables))
	for _, n := range in.MissingVariables {
		if _, ok := vars[n]; !ok && !slices.Contains(missing, n) {
			missing = append(missing, n)
		}
	}
	errs := in.Errors
	if errs == nil {
		errs = []string{}
	}

	d := &model.Draft{
		ID:                 ID(muni, service),
		MunicipalityID:     muni,
		Service:            service,
		Status:             model.DraftStatusDraft,
		Variables:          vars,
		MissingVariables:   missing,
		SearchAttempts:     in.SearchAttempts,
		MissingSuggestions: in.MissingSuggestions,
		PDFLeads:           in.PDFLeads,
		Errors:             errs,
		Metadata: model.DraftMetadata{
			TotalVariables:  len(vars) + len(missing),
			FilledVariables: len(vars),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.SaveDraft(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns nil when the draft does not exist.
func (s *Store) Get(muni, service string) (*model.Draft, error) {
	return s.backend.GetDraft(muni, service)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	MunicipalityID string
	Status         model.DraftStatus
}

// List returns draft summaries, most recently updated first.
func (s *Store) List(f Filter) ([]model.DraftSummary, error) {
	all, err := s.backend.ListDrafts()
	if err != nil {
		return nil, err
	}
	out := make([]model.DraftSummary, 0, len(all))
	for i := range all {
		d := &all[i]
		if f.MunicipalityID != "" && d.MunicipalityID != f.MunicipalityID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, Summary(d))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Summary is the list view of d.
func Summary(d *model.Draft) model.DraftSummary {
	return model.DraftSummary{
		ID:              d.ID,
		MunicipalityID:  d.MunicipalityID,
		Service:         d.Service,
		Status:          d.Status,
		TotalVariables:  len(d.Variables) + len(d.MissingVariables),
		FilledVariables: len(d.Variables),
		MissingCount:    len(d.MissingVariables),
		ErrorCount:      len(d.Errors),
		UpdatedAt:       d.UpdatedAt,
	}
}

// Statistics counts drafts by status and by municipality.
func (s *Store) Statistics() (model.DraftStatistics, error) {
	all, err := s.backend.ListDrafts()
	if err != nil {
		return model.DraftStatistics{}, err
	}
	st := model.DraftStatistics{
		Total: len(all),
		ByStatus: map[model.DraftStatus]int{
			model.DraftStatusDraft:         0,
			model.DraftStatusPendingReview: 0,
			model.DraftStatusApproved:      0,
			model.DraftStatusRejected:      0,
		},
		ByMunicipality: map[string]int{},
	}
	for _, d := range all {
		st.ByStatus[d.Status]++
		st.ByMunicipality[d.MunicipalityID]++
	}
	return st, nil
}

// UpdateStatus moves a draft to status. actor and reason are recorded for
// approvals and rejections. Returns nil when the draft does not exist.
func (s *Store) UpdateStatus(muni, service string, status model.DraftStatus, actor, reason string) (*model.Draft, error) {
	if !status.Valid() {
		return nil, eris.Errorf("drafts: invalid status %q", status)
	}
	return s.modify(muni, service, func(d *model.Draft, now time.Time) error {
		d.Status = status
		switch status {
		case model.DraftStatusApproved:
			d.Metadata.ApprovedBy = actor
			d.Metadata.ApprovedAt = &now
		case model.DraftStatusRejected:
			d.Metadata.RejectedBy = actor
			d.Metadata.RejectedAt = &now
			d.Metadata.RejectionReason = reason
		}
		return nil
	})
}

// Edit changes one variable. Nil fields keep the existing value, or take
// the defaults for a new entry (confidence 1.0, validated).
type Edit struct {
	Value      string
	SourceURL  *string
	Confidence *float64
	Validated  *bool
}

// UpdateVariables applies operator edits. A new entry leaves
// MissingVariables and marks its suggestion accepted. Returns nil when the
// draft does not exist.
func (s *Store) UpdateVariables(muni, service string, edits map[string]Edit) (*model.Draft, error) {
	return s.modify(muni, service, func(d *model.Draft, now time.Time) error {
		applyEdits(d, edits, now)
		return nil
	})
}

func applyEdits(d *model.Draft, edits map[string]Edit, now time.Time) {
	if d.Variables == nil {
		d.Variables = map[string]model.DraftVariableEntry{}
	}
	for name, e := range edits {
		entry, exists := d.Variables[name]
		if !exists {
			entry = model.DraftVariableEntry{Confidence: 1.0, Validated: true}
		}
		entry.Value = e.Value
		entry.ExtractedAt = now
		if e.SourceURL != nil {
			entry.SourceURL = *e.SourceURL
		}
		if e.Confidence != nil {
			entry.Confidence = *e.Confidence
		}
		if e.Validated != nil {
			entry.Validated = *e.Validated
		}
		d.Variables[name] = entry
		if !exists {
			d.MissingVariables = slices.DeleteFunc(d.MissingVariables, func(n string) bool { return n == name })
		}
		if sg, ok := d.MissingSuggestions[name]; ok {
			sg.Status = model.SuggestionAccepted
			d.MissingSuggestions[name] = sg
		}
	}
	d.Metadata.FilledVariables = len(d.Variables)
}

// UpdateSuggestionStatus records the operator's decision on a suggestion.
// A draft without that suggestion is returned unchanged.
func (s *Store) UpdateSuggestionStatus(muni, service, name string, status model.SuggestionStatus) (*model.Draft, error) {
	switch status {
	case model.SuggestionSuggested, model.SuggestionAccepted, model.SuggestionRejected:
	default:
		return nil, eris.Errorf("drafts: invalid suggestion status %q", status)
	}
	d, err := s.backend.GetDraft(muni, service)
	if err != nil || d == nil {
		return d, err
	}
	sg, ok := d.MissingSuggestions[name]
	if !ok {
		return d, nil
	}
	sg.Status = status
	d.MissingSuggestions[name] = sg
	d.UpdatedAt = s.now()
	if err := s.backend.SaveDraft(d); err != nil {
		return nil, err
	}
	return d, nil
}

// ApplySuggestion accepts a suggestion as the variable's value. value
// overrides the suggested value when non-empty.
func (s *Store) ApplySuggestion(muni, service, name, value string) (*model.Draft, error) {
	return s.modify(muni, service, func(d *model.Draft, now time.Time) error {
		sg, ok := d.MissingSuggestions[name]
		if !ok {
			return eris.Errorf("drafts: no suggestion for %s in %s", name, d.ID)
		}
		if value == "" {
			value = sg.SuggestedValue
		}
		if value == "" {
			return eris.Errorf("drafts: suggestion for %s has no value", name)
		}
		src := sg.SuggestedSourceURL
		conf := sg.Confidence
		applyEdits(d, map[string]Edit{name: {Value: value, SourceURL: &src, Confidence: &conf}}, now)
		return nil
	})
}

// Delete reports whether a draft was removed.
func (s *Store) Delete(muni, service string) (bool, error) {
	return s.backend.DeleteDraft(muni, service)
}

// modify loads, mutates and saves a draft, stamping UpdatedAt.
func (s *Store) modify(muni, service string, fn func(d *model.Draft, now time.Time) error) (*model.Draft, error) {
	d, err := s.backend.GetDraft(muni, service)
	if err != nil || d == nil {
		return nil, err
	}
	now := s.now()
	if err := fn(d, now); err != nil {
		return nil, err
	}
	d.UpdatedAt = now
	if err := s.backend.SaveDraft(d); err != nil {
		return nil, err
	}
	return d, nil
}
