package drafts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/store"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(store.NewFileStore(t.TempDir(), nil))
	clock := t0
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func shiminInput() Input {
	return Input{
		Variables: map[string]model.DraftVariableEntry{
			"juminhyo_fee": {Value: "300円", SourceURL: "https://www.city.test.lg.jp/fee", Confidence: 0.8, Validated: true},
		},
		MissingVariables: []string{"inkan_fee", "juminhyo_fee", "inkan_fee"},
		MissingSuggestions: map[string]model.MissingSuggestion{
			"inkan_fee": {
				VariableName:       "inkan_fee",
				Reason:             "料金表が見つからない",
				SuggestedValue:     "300円",
				SuggestedSourceURL: "https://www.city.test.lg.jp/inkan",
				Confidence:         0.4,
				Status:             model.SuggestionSuggested,
			},
		},
	}
}

func TestCreate(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)
	assert.Equal(t, "kawasaki-shimin", d.ID)
	assert.Equal(t, model.DraftStatusDraft, d.Status)
	assert.Equal(t, []string{"inkan_fee"}, d.MissingVariables)
	assert.Equal(t, 2, d.Metadata.TotalVariables)
	assert.Equal(t, 1, d.Metadata.FilledVariables)
	assert.NotNil(t, d.Errors)

	got, err := s.Get("kawasaki", "shimin")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "300円", got.Variables["juminhyo_fee"].Value)
}

func TestCreate_Overwrites(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)
	_, err = s.UpdateStatus("kawasaki", "shimin", model.DraftStatusApproved, "admin", "")
	require.NoError(t, err)

	d, err := s.Create("kawasaki", "shimin", Input{MissingVariables: []string{"juminhyo_fee"}})
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusDraft, d.Status)
	assert.Empty(t, d.Variables)
	assert.Nil(t, d.Metadata.ApprovedAt)

	list, err := s.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Get("kawasaki", "shimin")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestList_SortedAndFiltered(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)
	_, err = s.Create("yokohama", "gomi", Input{MissingVariables: []string{"a"}})
	require.NoError(t, err)
	_, err = s.Create("kawasaki", "gomi", Input{})
	require.NoError(t, err)
	_, err = s.UpdateStatus("kawasaki", "shimin", model.DraftStatusPendingReview, "", "")
	require.NoError(t, err)

	all, err := s.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "kawasaki-shimin", all[0].ID)
	assert.Equal(t, "kawasaki-gomi", all[1].ID)
	assert.Equal(t, "yokohama-gomi", all[2].ID)
	assert.Equal(t, 1, all[0].FilledVariables)
	assert.Equal(t, 1, all[0].MissingCount)

	kawasaki, err := s.List(Filter{MunicipalityID: "kawasaki"})
	require.NoError(t, err)
	assert.Len(t, kawasaki, 2)

	pending, err := s.List(Filter{Status: model.DraftStatusPendingReview})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "kawasaki-shimin", pending[0].ID)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)

	d, err := s.UpdateStatus("kawasaki", "shimin", model.DraftStatusRejected, "reviewer", "出典が古い")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.DraftStatusRejected, d.Status)
	assert.Equal(t, "reviewer", d.Metadata.RejectedBy)
	assert.Equal(t, "出典が古い", d.Metadata.RejectionReason)
	require.NotNil(t, d.Metadata.RejectedAt)
	assert.True(t, d.UpdatedAt.After(d.CreatedAt))

	_, err = s.UpdateStatus("kawasaki", "shimin", "published", "", "")
	assert.Error(t, err)

	missing, err := s.UpdateStatus("nowhere", "shimin", model.DraftStatusApproved, "", "")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateVariables(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)

	conf := 0.95
	d, err := s.UpdateVariables("kawasaki", "shimin", map[string]Edit{
		"juminhyo_fee": {Value: "350円", Confidence: &conf},
		"inkan_fee":    {Value: "300円"},
	})
	require.NoError(t, err)
	require.NotNil(t, d)

	fee := d.Variables["juminhyo_fee"]
	assert.Equal(t, "350円", fee.Value)
	assert.Equal(t, 0.95, fee.Confidence)
	assert.Equal(t, "https://www.city.test.lg.jp/fee", fee.SourceURL)

	inkan := d.Variables["inkan_fee"]
	assert.Equal(t, 1.0, inkan.Confidence)
	assert.True(t, inkan.Validated)
	assert.Empty(t, d.MissingVariables)
	assert.Equal(t, model.SuggestionAccepted, d.MissingSuggestions["inkan_fee"].Status)
	assert.Equal(t, 2, d.Metadata.FilledVariables)
}

func TestApplySuggestion(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)

	d, err := s.ApplySuggestion("kawasaki", "shimin", "inkan_fee", "")
	require.NoError(t, err)
	require.NotNil(t, d)

	entry, ok := d.Variables["inkan_fee"]
	require.True(t, ok)
	assert.Equal(t, "300円", entry.Value)
	assert.Equal(t, "https://www.city.test.lg.jp/inkan", entry.SourceURL)
	assert.Equal(t, 0.4, entry.Confidence)
	assert.NotContains(t, d.MissingVariables, "inkan_fee")
	assert.Equal(t, model.SuggestionAccepted, d.MissingSuggestions["inkan_fee"].Status)

	got, err := s.Get("kawasaki", "shimin")
	require.NoError(t, err)
	assert.Contains(t, got.Variables, "inkan_fee")
}

func TestApplySuggestion_Errors(t *testing.T) {
	s := newTestStore(t)
	in := shiminInput()
	sg := in.MissingSuggestions["inkan_fee"]
	sg.SuggestedValue = ""
	in.MissingSuggestions["inkan_fee"] = sg
	_, err := s.Create("kawasaki", "shimin", in)
	require.NoError(t, err)

	_, err = s.ApplySuggestion("kawasaki", "shimin", "inkan_fee", "")
	assert.ErrorContains(t, err, "has no value")

	_, err = s.ApplySuggestion("kawasaki", "shimin", "unknown", "1")
	assert.ErrorContains(t, err, "no suggestion")

	d, err := s.ApplySuggestion("kawasaki", "shimin", "inkan_fee", "200円")
	require.NoError(t, err)
	assert.Equal(t, "200円", d.Variables["inkan_fee"].Value)
}

func TestUpdateSuggestionStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)

	d, err := s.UpdateSuggestionStatus("kawasaki", "shimin", "inkan_fee", model.SuggestionRejected)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionRejected, d.MissingSuggestions["inkan_fee"].Status)
	assert.Equal(t, []string{"inkan_fee"}, d.MissingVariables)

	same, err := s.UpdateSuggestionStatus("kawasaki", "shimin", "nope", model.SuggestionAccepted)
	require.NoError(t, err)
	assert.True(t, d.UpdatedAt.Equal(same.UpdatedAt))

	_, err = s.UpdateSuggestionStatus("kawasaki", "shimin", "inkan_fee", "maybe")
	assert.Error(t, err)
}

func TestDeleteAndStatistics(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("kawasaki", "shimin", shiminInput())
	require.NoError(t, err)
	_, err = s.Create("kawasaki", "gomi", Input{})
	require.NoError(t, err)
	_, err = s.Create("yokohama", "shimin", Input{})
	require.NoError(t, err)
	_, err = s.UpdateStatus("yokohama", "shimin", model.DraftStatusApproved, "admin", "")
	require.NoError(t, err)

	st, err := s.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[model.DraftStatusDraft])
	assert.Equal(t, 1, st.ByStatus[model.DraftStatusApproved])
	assert.Equal(t, 0, st.ByStatus[model.DraftStatusRejected])
	assert.Equal(t, 2, st.ByMunicipality["kawasaki"])

	ok, err := s.Delete("kawasaki", "gomi")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete("kawasaki", "gomi")
	require.NoError(t, err)
	assert.False(t, ok)
}
