package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Boilerplate that points elsewhere instead of stating a value.
var hedgingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^詳細は`),
	regexp.MustCompile(`^お問い合わせ`),
	regexp.MustCompile(`による$`),
	regexp.MustCompile(`^要確認`),
	regexp.MustCompile(`^未定`),
	regexp.MustCompile(`^[-－]$`),
	regexp.MustCompile(`をご覧`),
	regexp.MustCompile(`参照$`),
	regexp.MustCompile(`をご確認`),
	regexp.MustCompile(`^各種`),
	regexp.MustCompile(`によって異なる`),
}

var (
	feeAmountRe   = regexp.MustCompile(`\d+円|無料`)
	phoneNumberRe = regexp.MustCompile(`\d{2,5}-\d{2,4}-\d{4}`)
)

// telTokenRe matches "tel" as a name token: shimin_tel, tel_no, tel2. Not hotel.
var telTokenRe = regexp.MustCompile(`(^|[_\-\s])tel($|[_\-\s\d])`)

// IsHedging reports whether value is boilerplate such as "詳細はお問い合わせください".
func IsHedging(value string) bool {
	v := strings.TrimSpace(value)
	for _, p := range hedgingPatterns {
		if p.MatchString(v) {
			return true
		}
	}
	return false
}

// IsConcreteValue decides whether an extracted value is specific enough to
// treat the variable as resolved. Fee-like names need an amount, phone-like
// names need a dialable number.
func IsConcreteValue(name, value string) bool {
	v := strings.TrimSpace(value)
	if v == "" || IsHedging(v) {
		return false
	}

	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "fee") || strings.Contains(name, "料"):
		return feeAmountRe.MatchString(compact(v))
	case strings.Contains(lower, "phone") || telTokenRe.MatchString(lower) || strings.Contains(name, "電話"):
		return phoneNumberRe.MatchString(hyphenRe.ReplaceAllString(compact(v), "-"))
	}
	return utf8.RuneCountInString(v) > 2
}

// IsConcrete is IsConcreteValue for a possibly nil value.
func IsConcrete(name string, value *string) bool {
	return value != nil && IsConcreteValue(name, *value)
}
