package search

import (
	"net/url"
	"regexp"
	"strings"
)

var municipalHostPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.(city|town|vill|pref)\.[a-z]+\.jp$`),
	regexp.MustCompile(`^www\.(city|town|vill|pref)\.`),
	regexp.MustCompile(`^(city|town|vill|pref)\.`),
}

var romanizedMunicipalMarkers = []string{"-city", "-town", "-village", "-shi", "-machi", "-mura"}

// IsOfficialDomain reports whether rawURL points at a Japanese government
// or municipal host.
func IsOfficialDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return IsOfficialHost(u.Hostname())
}

// IsOfficialHost is IsOfficialDomain for a bare hostname.
func IsOfficialHost(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	if strings.HasSuffix(host, ".lg.jp") || strings.HasSuffix(host, ".go.jp") {
		return true
	}
	for _, re := range municipalHostPatterns {
		if re.MatchString(host) {
			return true
		}
	}
	if strings.HasSuffix(host, ".jp") {
		for _, m := range romanizedMunicipalMarkers {
			if strings.Contains(host, m) {
				return true
			}
		}
	}
	return false
}

// URLCredibility scores a source: 0.5 base, +0.3 official, +0.1 https.
func URLCredibility(rawURL string) float64 {
	score := 0.5
	if IsOfficialDomain(rawURL) {
		score += 0.3
	}
	if strings.HasPrefix(rawURL, "https://") {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SameHost reports whether two URLs share a hostname.
func SameHost(a, b string) bool {
	ha, hb := hostOf(a), hostOf(b)
	return ha != "" && strings.EqualFold(ha, hb)
}

// Host returns the hostname of rawURL, or "".
func Host(rawURL string) string { return hostOf(rawURL) }
