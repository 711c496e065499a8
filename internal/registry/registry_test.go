package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/munivars/internal/model"
)

func TestDefault(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	s, ok := r.Service("shimin")
	require.True(t, ok)
	assert.Contains(t, s.Variables, "juminhyo_fee")
	assert.NotEmpty(t, s.SearchKeywords)

	fee, ok := r.Variable("juminhyo_fee")
	require.True(t, ok)
	assert.Equal(t, model.KindFee, fee.Kind)
	assert.Equal(t, []string{"300円"}, fee.Examples)

	owner, ok := r.ServiceOf("moenai_gomi_shushuhi")
	require.True(t, ok)
	assert.Equal(t, "environment", owner)

	tax, ok := r.Variable("juminzei_kinto_shi")
	require.True(t, ok)
	assert.Equal(t, []string{"3,000円"}, tax.Examples)
}

func TestDefault_EveryVariableHasOneOwner(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	seen := map[string]string{}
	for _, s := range r.Services() {
		for _, name := range s.Variables {
			prev, dup := seen[name]
			assert.False(t, dup, "%s in %s and %s", name, prev, s.ID)
			seen[name] = s.ID

			def := r.Definition(name)
			assert.NotEmpty(t, def.Description, name)
		}
	}
	assert.Equal(t, len(seen), r.TotalVariables())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "services: [\n"},
		{"missing id", "services:\n  - name: x\n"},
		{"duplicate service", "services:\n  - id: a\n  - id: a\n"},
		{"unnamed variable", "services:\n  - id: a\n    variables:\n      - description: x\n"},
		{"shared variable", "services:\n  - id: a\n    variables:\n      - name: v\n  - id: b\n    variables:\n      - name: v\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDefinitions(t *testing.T) {
	r, err := Parse([]byte(`
services:
  - id: a
    name: サービスA
    variables:
      - name: a_phone
        description: 電話番号
        kind: phone
      - name: a_note
        description: 備考
        priority: low
  - id: b
    variables:
      - name: b_x
`))
	require.NoError(t, err)

	defs := r.Definitions("a")
	require.Len(t, defs, 2)
	assert.Equal(t, "a_phone", defs[0].Name)
	assert.Equal(t, model.PriorityMedium, defs[0].Priority)
	assert.Equal(t, model.PriorityLow, defs[1].Priority)
	assert.Nil(t, r.Definitions("missing"))

	assert.Equal(t, []string{"a", "b"}, r.ServiceIDs())
	assert.Equal(t, 2, r.TotalVariables("a"))
	assert.Equal(t, 3, r.TotalVariables())

	unknown := r.Definition("zzz")
	assert.Equal(t, "zzz", unknown.Description)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  - id: x\n    variables:\n      - name: x_url\n"), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	_, ok := r.Service("x")
	assert.True(t, ok)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
