package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/munivars/internal/model"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		def  model.VariableDefinition
		want model.ValidationKind
	}{
		{model.VariableDefinition{Name: "shimin_phone", Kind: model.KindText}, model.KindText},
		{model.VariableDefinition{Name: "anything", Kind: model.KindPostal}, model.KindPostal},
		{model.VariableDefinition{Name: "shimin_phone"}, model.KindPhone},
		{model.VariableDefinition{Name: "soudan_tel"}, model.KindPhone},
		{model.VariableDefinition{Name: "contact_email"}, model.KindEmail},
		{model.VariableDefinition{Name: "inquiry_mail"}, model.KindEmail},
		{model.VariableDefinition{Name: "form_url"}, model.KindURL},
		{model.VariableDefinition{Name: "juminhyo_fee"}, model.KindFee},
		{model.VariableDefinition{Name: "inkan_fee_copy"}, model.KindFee},
		{model.VariableDefinition{Name: "kokuho_rate"}, model.KindPercent},
		{model.VariableDefinition{Name: "shinkoku_kigen"}, model.KindDate},
		{model.VariableDefinition{Name: "apply_deadline_note"}, model.KindDate},
		{model.VariableDefinition{Name: "window_hours"}, model.KindTime},
		{model.VariableDefinition{Name: "moenai_gomi_shushuhi"}, model.KindText},
		{model.VariableDefinition{Name: "fee_notes"}, model.KindText},
	}
	for _, tt := range tests {
		t.Run(tt.def.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.def))
		})
	}
}

func TestKindForName(t *testing.T) {
	assert.Equal(t, model.KindPhone, KindForName("x_phone"))
	assert.Equal(t, model.KindText, KindForName("x"))
}
