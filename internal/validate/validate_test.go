package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/munivars/internal/model"
)

func TestValidate_Kinds(t *testing.T) {
	tests := []struct {
		kind       model.ValidationKind
		in         string
		valid      bool
		normalized string
	}{
		{model.KindPhone, "03-1234-5678", true, "03-1234-5678"},
		{model.KindPhone, "０３－１２３４－５６７８", true, "03-1234-5678"},
		{model.KindPhone, "03ー1234ー5678", true, "03-1234-5678"},
		{model.KindPhone, "0312345678", true, "0312345678"},
		{model.KindPhone, "0120-123-456", true, "0120-123-456"},
		{model.KindPhone, "0570-01-2345", true, "0570-01-2345"},
		{model.KindPhone, " 042 - 123 - 4567 ", true, "042-123-4567"},
		{model.KindPhone, "市民課へ", false, ""},

		{model.KindEmail, " Shimin@City.Example.LG.JP ", true, "shimin@city.example.lg.jp"},
		{model.KindEmail, "https://www.city.example.lg.jp/form/contact", true, "https://www.city.example.lg.jp/form/contact"},
		{model.KindEmail, "問い合わせフォーム", false, ""},

		{model.KindURL, "https://www.city.example.lg.jp/", true, "https://www.city.example.lg.jp/"},
		{model.KindURL, "www.city.example.lg.jp", false, ""},
		{model.KindURL, "ftp://files.example.jp", false, ""},

		{model.KindFee, "300円", true, "300円"},
		{model.KindFee, "1,000 円", true, "1,000円"},
		{model.KindFee, "３００円", true, "300円"},
		{model.KindFee, "￥300", true, "¥300"},
		{model.KindFee, "無料", true, "無料"},
		{model.KindFee, "300円〜500円", true, "300円〜500円"},
		{model.KindFee, "300円～500円", true, "300円~500円"},
		{model.KindFee, "1通につき300円", false, ""},

		{model.KindDate, "1月15日", true, "1月15日"},
		{model.KindDate, "2026年 1月15日", true, "2026年1月15日"},
		{model.KindDate, "令和8年1月15日", true, "令和8年1月15日"},
		{model.KindDate, "2026/1/15", true, "2026/1/15"},
		{model.KindDate, "2026-01-15", true, "2026-01-15"},
		{model.KindDate, "毎月第2水曜", false, ""},

		{model.KindTime, "9:00", true, "9:00"},
		{model.KindTime, "9時30分", true, "9時30分"},
		{model.KindTime, "9時", true, "9時"},
		{model.KindTime, "8:30〜17:15", true, "8:30〜17:15"},
		{model.KindTime, "８：３０～１７：１５", true, "8:30~17:15"},
		{model.KindTime, "平日 8:30-17:15", true, "平日8:30-17:15"},
		{model.KindTime, "午前中", false, ""},

		{model.KindPercent, "8.5%", true, "8.5%"},
		{model.KindPercent, "１０％", true, "10%"},
		{model.KindPercent, "約10%", false, ""},

		{model.KindPostal, "〒100-0001", true, "〒100-0001"},
		{model.KindPostal, "1000001", true, "〒100-0001"},
		{model.KindPostal, "１００ー０００１", true, "〒100-0001"},
		{model.KindPostal, "100-01", false, ""},

		{model.KindCount, " 3 ", true, "3"},
		{model.KindText, "  窓口で申請 ", true, "窓口で申請"},
		{model.ValidationKind("unknown"), "x", true, "x"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.in, func(t *testing.T) {
			got := Validate(tt.kind, tt.in)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.Equal(t, tt.normalized, got.Normalized)
				assert.Empty(t, got.Error)
			} else {
				assert.NotEmpty(t, got.Error)
			}
		})
	}
}

func TestValidate_NormalizedIsIdempotent(t *testing.T) {
	inputs := map[model.ValidationKind][]string{
		model.KindPhone:   {"０３－１２３４－５６７８", "0312345678", "0120-123-456"},
		model.KindEmail:   {"A@B.JP", "https://example.lg.jp/form"},
		model.KindURL:     {"https://a.lg.jp/x?y=1"},
		model.KindFee:     {"1,000 円", "￥300", "無料", "300円～500円"},
		model.KindDate:    {"令和8年1月15日", "2026 / 1 / 15"},
		model.KindTime:    {"８：３０～１７：１５", "平日 8:30-17:15"},
		model.KindPercent: {"１０％", "8.5 %"},
		model.KindPostal:  {"1000001", "〒100-0001"},
		model.KindText:    {" 自由記述 "},
	}
	for kind, values := range inputs {
		for _, v := range values {
			first := Validate(kind, v)
			if !assert.True(t, first.Valid, "%s %q", kind, v) {
				continue
			}
			second := Validate(kind, first.Normalized)
			assert.True(t, second.Valid, "%s %q", kind, first.Normalized)
			assert.Equal(t, first.Normalized, second.Normalized)
		}
	}
}

func TestAdjustConfidence(t *testing.T) {
	tests := []struct {
		in    float64
		valid bool
		want  float64
	}{
		{0.7, true, 0.8},
		{0.95, true, 1.0},
		{0.7, false, 0.5},
		{0.2, false, 0.1},
		{0, true, 0.1},
		{1.5, true, 1.0},
		{-1, false, 0.1},
	}
	for _, tt := range tests {
		got := AdjustConfidence(tt.in, tt.valid)
		assert.InDelta(t, tt.want, got, 1e-9)
		assert.GreaterOrEqual(t, got, 0.1)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestVariable_UsesKindLookup(t *testing.T) {
	fee := model.VariableDefinition{Name: "juminhyo_fee"}
	assert.True(t, Variable(fee, "300円").Valid)
	assert.False(t, Variable(fee, "窓口で確認").Valid)

	explicit := model.VariableDefinition{Name: "juminhyo_fee", Kind: model.KindText}
	assert.True(t, Variable(explicit, "窓口で確認").Valid)
}
