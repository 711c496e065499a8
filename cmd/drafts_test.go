package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/registry"
	"github.com/sells-group/munivars/internal/store"
)

func newTestStoreEnv(t *testing.T) *storeEnv {
	t.Helper()
	cat, err := registry.Default()
	require.NoError(t, err)
	files := store.NewFileStore(t.TempDir(), store.NewCountCache(time.Minute))
	return &storeEnv{Catalog: cat, Files: files, Drafts: drafts.New(files)}
}

func seedDraft(t *testing.T, se *storeEnv) *model.Draft {
	t.Helper()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, se.Files.SaveMeta(&model.MunicipalityMeta{
		ID: "takaoka", Name: "高岡市", Prefecture: "富山県",
		CreatedAt: now, UpdatedAt: now, Status: model.MunicipalityPendingReview,
	}))
	d, err := se.Drafts.Create("takaoka", "shimin", drafts.Input{
		Variables: map[string]model.DraftVariableEntry{
			"shimin_phone":      {Value: "0766-20-1111", SourceURL: "https://www.city.takaoka.toyama.jp/", Confidence: 0.9, Validated: true},
			"shimin_department": {Value: "市民課", SourceURL: "https://www.city.takaoka.toyama.jp/", Confidence: 0.5, Validated: true},
		},
		MissingVariables: []string{"shimin_email"},
	})
	require.NoError(t, err)
	return d
}

func TestLoadDraft(t *testing.T) {
	se := newTestStoreEnv(t)
	seedDraft(t, se)

	d, err := loadDraft(se, "takaoka", "shimin")
	require.NoError(t, err)
	assert.Equal(t, "takaoka-shimin", d.ID)

	_, err = loadDraft(se, "takaoka", "tax")
	assert.ErrorContains(t, err, "not found")
}

func TestPublishDraft(t *testing.T) {
	se := newTestStoreEnv(t)
	d := seedDraft(t, se)
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	n, err := publishDraft(se, d, 0.8, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	vs, err := se.Files.LoadVariables("takaoka")
	require.NoError(t, err)
	assert.Equal(t, "0766-20-1111", vs["shimin_phone"].Value)
	assert.NotContains(t, vs, "shimin_department")

	meta, err := se.Files.LoadMeta("takaoka")
	require.NoError(t, err)
	assert.Equal(t, model.MunicipalityPublished, meta.Status)
	assert.True(t, meta.UpdatedAt.Equal(now))
}

func TestPublishDraft_NothingAboveThreshold(t *testing.T) {
	se := newTestStoreEnv(t)
	d := seedDraft(t, se)

	n, err := publishDraft(se, d, 0.95, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	meta, err := se.Files.LoadMeta("takaoka")
	require.NoError(t, err)
	assert.Equal(t, model.MunicipalityPendingReview, meta.Status)
}

func TestConcreteEdits(t *testing.T) {
	str := func(s string) *string { return &s }
	edits := concreteEdits([]model.ExtractedVariable{
		{VariableName: "juminhyo_fee", Value: str("300円"), Confidence: 0.9, SourceURL: "https://example.jp/fee"},
		{VariableName: "inkan_fee", Value: str("詳細はお問い合わせください"), Confidence: 0.9},
		{VariableName: "shimin_phone", Value: str("0766-20-1111"), Confidence: 0.7, ValidationError: "invalid area code"},
		{VariableName: "shimin_email", Value: nil},
	})

	require.Len(t, edits, 2)
	fee := edits["juminhyo_fee"]
	assert.Equal(t, "300円", fee.Value)
	assert.Equal(t, "https://example.jp/fee", *fee.SourceURL)
	assert.Equal(t, 0.9, *fee.Confidence)
	assert.True(t, *fee.Validated)
	assert.False(t, *edits["shimin_phone"].Validated)
}

func TestFormatComparison(t *testing.T) {
	se := newTestStoreEnv(t)
	d := seedDraft(t, se)
	cmp := drafts.Compare(d, model.VariableStore{
		"shimin_department": {Value: "市民窓口課", Source: model.SourceManual},
	})

	var buf bytes.Buffer
	formatComparison(&buf, cmp, 0.1)
	out := buf.String()
	assert.Contains(t, out, "shimin_department")
	assert.Contains(t, out, "市民窓口課")
	assert.Contains(t, out, "0766-20-1111")
	assert.Contains(t, out, "大幅な変更")
}

func TestFormatDraftStats(t *testing.T) {
	var buf bytes.Buffer
	formatDraftStats(&buf, model.DraftStatistics{
		Total:    3,
		ByStatus: map[model.DraftStatus]int{model.DraftStatusApproved: 2, model.DraftStatusRejected: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "Total drafts:")
	assert.Contains(t, out, "approved:")
	assert.Contains(t, out, "2")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "公開", statusLabel(model.MunicipalityPublished))
	assert.Equal(t, "確認待ち", statusLabel(model.MunicipalityPendingReview))
	assert.Equal(t, "下書き", statusLabel(model.MunicipalityDraft))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0f8fad5b", truncateID("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Equal(t, "short", truncateID("short"))
}
