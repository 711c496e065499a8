package drafts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/munivars/internal/model"
)

// DefaultSignificance is the changed-entry ratio HasSignificantChanges uses
// when given a non-positive threshold.
const DefaultSignificance = 0.5

var diffOrder = map[model.DiffType]int{
	model.DiffAdded:     0,
	model.DiffModified:  1,
	model.DiffRemoved:   2,
	model.DiffUnchanged: 3,
}

// Compare diffs a draft against the published store. Entries are kept when
// they changed or appear in the draft, ordered added, modified, removed,
// unchanged and by name within each group.
func Compare(d *model.Draft, vs model.VariableStore) model.DraftComparison {
	names := make(map[string]struct{}, len(d.Variables)+len(vs))
	for n := range d.Variables {
		names[n] = struct{}{}
	}
	for n := range vs {
		names[n] = struct{}{}
	}

	cmp := model.DraftComparison{
		DraftID:        d.ID,
		MunicipalityID: d.MunicipalityID,
		Service:        d.Service,
		Entries:        []model.DraftDiffEntry{},
	}
	for n := range names {
		dv, inDraft := d.Variables[n]
		sv, inStore := vs[n]

		var oldV, newV *string
		if inStore {
			oldV = model.StrPtr(sv.Value)
		}
		if inDraft {
			newV = model.StrPtr(dv.Value)
		}

		var t model.DiffType
		switch {
		case oldV == nil && newV != nil:
			t = model.DiffAdded
			cmp.Added++
		case oldV != nil && newV == nil:
			t = model.DiffRemoved
			cmp.Removed++
		case *oldV != *newV:
			t = model.DiffModified
			cmp.Modified++
		default:
			t = model.DiffUnchanged
			cmp.Unchanged++
		}
		if t == model.DiffUnchanged && !inDraft {
			continue
		}
		e := model.DraftDiffEntry{VariableName: n, Type: t, OldValue: oldV, NewValue: newV}
		if inDraft {
			e.Confidence = dv.Confidence
			e.SourceURL = dv.SourceURL
		}
		cmp.Entries = append(cmp.Entries, e)
	}
	sort.Slice(cmp.Entries, func(i, j int) bool {
		a, b := cmp.Entries[i], cmp.Entries[j]
		if diffOrder[a.Type] != diffOrder[b.Type] {
			return diffOrder[a.Type] < diffOrder[b.Type]
		}
		return a.VariableName < b.VariableName
	})
	return cmp
}

// HasChanges reports whether anything was added, modified or removed.
func HasChanges(cmp model.DraftComparison) bool {
	return cmp.Added+cmp.Modified+cmp.Removed > 0
}

// Changed returns the entries that are not unchanged.
func Changed(cmp model.DraftComparison) []model.DraftDiffEntry {
	var out []model.DraftDiffEntry
	for _, e := range cmp.Entries {
		if e.Type != model.DiffUnchanged {
			out = append(out, e)
		}
	}
	return out
}

// DiffSummary renders the counts for operators, e.g. "2件の新規追加、1件の変更".
func DiffSummary(cmp model.DraftComparison) string {
	var parts []string
	if cmp.Added > 0 {
		parts = append(parts, fmt.Sprintf("%d件の新規追加", cmp.Added))
	}
	if cmp.Modified > 0 {
		parts = append(parts, fmt.Sprintf("%d件の変更", cmp.Modified))
	}
	if cmp.Removed > 0 {
		parts = append(parts, fmt.Sprintf("%d件の削除", cmp.Removed))
	}
	if len(parts) == 0 {
		return "変更なし"
	}
	return strings.Join(parts, "、")
}

// HasSignificantChanges reports whether additions and modifications make up
// at least threshold of the emitted entries.
func HasSignificantChanges(cmp model.DraftComparison, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSignificance
	}
	if len(cmp.Entries) == 0 {
		return false
	}
	return float64(cmp.Added+cmp.Modified)/float64(len(cmp.Entries)) >= threshold
}

// Apply returns a copy of vs with every non-empty draft value written as an
// LLM-sourced entry stamped now. Neither argument is modified.
func Apply(d *model.Draft, vs model.VariableStore, now time.Time) model.VariableStore {
	return ApplyFiltered(d, vs, now, nil)
}

// ApplyFiltered is Apply restricted to entries keep accepts. A nil keep
// accepts everything.
func ApplyFiltered(d *model.Draft, vs model.VariableStore, now time.Time, keep func(name string, e model.DraftVariableEntry) bool) model.VariableStore {
	out := vs.Clone()
	for name, e := range d.Variables {
		if e.Value == "" {
			continue
		}
		if keep != nil && !keep(name, e) {
			continue
		}
		conf := e.Confidence
		out[name] = model.VariableValue{
			Value:      e.Value,
			Source:     model.SourceLLM,
			SourceURL:  e.SourceURL,
			Confidence: &conf,
			UpdatedAt:  now,
		}
	}
	return out
}
