package validate

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/model"
)

// legacyKinds infers a kind from the variable name for definitions that
// predate explicit kinds. Order matters: the first match wins.
var legacyKinds = []struct {
	re   *regexp.Regexp
	kind model.ValidationKind
}{
	{regexp.MustCompile(`_phone$|_tel$`), model.KindPhone},
	{regexp.MustCompile(`_email$|_mail$`), model.KindEmail},
	{regexp.MustCompile(`_url$`), model.KindURL},
	{regexp.MustCompile(`_fee$|_fee_`), model.KindFee},
	{regexp.MustCompile(`_rate$`), model.KindPercent},
	{regexp.MustCompile(`_kigen|_deadline|_period$`), model.KindDate},
	{regexp.MustCompile(`_hours$`), model.KindTime},
}

// KindOf picks the validator kind for a definition: the declared kind,
// then the legacy name table, then text.
func KindOf(def model.VariableDefinition) model.ValidationKind {
	if def.Kind != "" {
		return def.Kind
	}
	k, legacy := kindForName(def.Name)
	if legacy {
		zap.L().Debug("validate: kind inferred from variable name",
			zap.String("variable", def.Name),
			zap.String("kind", string(k)),
		)
	}
	return k
}

// KindForName applies only the legacy name table.
func KindForName(name string) model.ValidationKind {
	k, _ := kindForName(name)
	return k
}

func kindForName(name string) (model.ValidationKind, bool) {
	for _, lk := range legacyKinds {
		if lk.re.MatchString(name) {
			return lk.kind, true
		}
	}
	return model.KindText, false
}
