// Package validate checks and normalizes extracted variable values and
// decides whether a value is concrete enough to publish.
package validate

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/width"

	"github.com/sells-group/munivars/internal/model"
)

// Result is the outcome of validating one value.
type Result struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Error      string `json:"error,omitempty"`
}

func ok(normalized string) Result { return Result{Valid: true, Normalized: normalized} }
func fail(msg string) Result      { return Result{Error: msg} }

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	hyphenRe     = regexp.MustCompile(`[ー－‐−–—]`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{2,5}-\d{2,4}-\d{4}$`),
		regexp.MustCompile(`^\d{10,11}$`),
		regexp.MustCompile(`^0120-\d{3}-\d{3}$`),
		regexp.MustCompile(`^\d{4}-\d{2}-\d{4}$`),
	}
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	feePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[\d,]+円$`),
		regexp.MustCompile(`^¥[\d,]+$`),
		regexp.MustCompile(`^無料$`),
		regexp.MustCompile(`^[\d,]+円[〜~][\d,]+円$`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}月\d{1,2}日`),
		regexp.MustCompile(`^\d{4}年\d{1,2}月\d{1,2}日`),
		regexp.MustCompile(`^令和\d+年\d{1,2}月\d{1,2}日`),
		regexp.MustCompile(`^\d{4}/\d{1,2}/\d{1,2}$`),
		regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`),
	}
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}:\d{2}$`),
		regexp.MustCompile(`^\d{1,2}時\d{0,2}分?$`),
		regexp.MustCompile(`^\d{1,2}:\d{2}[〜~]\d{1,2}:\d{2}$`),
		regexp.MustCompile(`^(平日|月〜金|土日).+`),
	}
	percentRe     = regexp.MustCompile(`^\d+(\.\d+)?%$`)
	postalHyphen  = regexp.MustCompile(`^〒?(\d{3})-(\d{4})$`)
	postalCompact = regexp.MustCompile(`^〒?(\d{3})(\d{4})$`)
)

// fold maps full-width digits, letters and punctuation to their narrow forms.
func fold(s string) string {
	return width.Fold.String(s)
}

// compact folds and removes all whitespace.
func compact(s string) string {
	return whitespaceRe.ReplaceAllString(fold(s), "")
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Phone accepts Japanese landline, mobile, free-dial and navi-dial formats.
func Phone(value string) Result {
	n := hyphenRe.ReplaceAllString(compact(value), "-")
	if matchAny(phonePatterns, n) {
		return ok(n)
	}
	return fail("電話番号の形式が正しくありません（例: 03-1234-5678）")
}

// Email accepts an address or, failing that, a contact form URL.
func Email(value string) Result {
	n := strings.ToLower(strings.TrimSpace(fold(value)))
	if emailRe.MatchString(n) {
		return ok(n)
	}
	if u, err := url.Parse(n); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return ok(u.String())
	}
	return fail("メールアドレスの形式が正しくありません（問い合わせフォームURLも可）")
}

// URL accepts absolute http(s) URLs.
func URL(value string) Result {
	n := strings.TrimSpace(value)
	if u, err := url.Parse(n); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return ok(n)
	}
	return fail("URLの形式が正しくありません（http:// または https:// で始まる必要があります）")
}

// Fee accepts yen amounts, ranges and 無料.
func Fee(value string) Result {
	n := compact(value)
	if matchAny(feePatterns, n) {
		return ok(n)
	}
	return fail("金額の形式が正しくありません（例: 300円, 無料）")
}

// Date accepts Gregorian, Reiwa and numeric date forms.
func Date(value string) Result {
	n := compact(value)
	if matchAny(datePatterns, n) {
		return ok(n)
	}
	return fail("日付の形式が正しくありません（例: 1月15日, 2026年1月15日）")
}

// Time accepts clock times, ranges and weekday-qualified hours.
func Time(value string) Result {
	n := compact(value)
	if matchAny(timePatterns, n) {
		return ok(n)
	}
	return fail("時間の形式が正しくありません（例: 9:00, 9:00〜17:00）")
}

// Percent accepts integer and decimal percentages.
func Percent(value string) Result {
	n := compact(value)
	if percentRe.MatchString(n) {
		return ok(n)
	}
	return fail("パーセンテージの形式が正しくありません（例: 10%, 8.5%）")
}

// Postal accepts seven-digit postal codes and normalizes to 〒NNN-NNNN.
func Postal(value string) Result {
	n := hyphenRe.ReplaceAllString(compact(value), "-")
	for _, re := range []*regexp.Regexp{postalHyphen, postalCompact} {
		if m := re.FindStringSubmatch(n); m != nil {
			return ok("〒" + m[1] + "-" + m[2])
		}
	}
	return fail("郵便番号の形式が正しくありません（例: 〒100-0001）")
}

var validators = map[model.ValidationKind]func(string) Result{
	model.KindPhone:   Phone,
	model.KindEmail:   Email,
	model.KindURL:     URL,
	model.KindFee:     Fee,
	model.KindDate:    Date,
	model.KindTime:    Time,
	model.KindPercent: Percent,
	model.KindPostal:  Postal,
}

// Validate checks value against kind. Kinds without a format rule (count,
// text, unknown) accept any value, trimmed.
func Validate(kind model.ValidationKind, value string) Result {
	if fn, found := validators[kind]; found {
		return fn(value)
	}
	return ok(strings.TrimSpace(value))
}

// Variable validates a value for a variable definition, choosing the kind
// with KindOf.
func Variable(def model.VariableDefinition, value string) Result {
	return Validate(KindOf(def), value)
}

// AdjustConfidence shifts c by the validation outcome: +0.1 when valid,
// -0.2 when not. The result always lies in [0.1, 1.0].
func AdjustConfidence(c float64, valid bool) float64 {
	if valid {
		c += 0.1
	} else {
		c -= 0.2
	}
	return clamp(c, 0.1, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
