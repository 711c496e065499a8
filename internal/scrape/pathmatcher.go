package scrape

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExcludePaths are the non-content paths skipped before any request.
var DefaultExcludePaths = []string{
	"/login*",
	"/signin*",
	"/register*",
	"/cart*",
	"/checkout*",
	"/admin*",
}

// Download extensions that never carry extractable page text.
var downloadPatterns = []string{
	"/*.pdf",
	"/*.doc",
	"/*.docx",
	"/*.xls",
	"/*.xlsx",
	"/*.zip",
	"/*.ppt",
	"/*.pptx",
}

// PathMatcher filters URLs based on glob-style path patterns.
// A pattern is tried against the full path and against every trailing
// segment run, so "/login*" also excludes "/member/login.php".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns (e.g. "/admin/*",
// "/*.pdf"). Falls back to DefaultExcludePaths if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = DefaultExcludePaths
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		lowered = append(lowered, strings.ToLower(p))
	}
	return &PathMatcher{patterns: lowered}
}

// NewUsefulURLMatcher returns the matcher behind IsUsefulURL: the download
// extensions plus the given non-content paths.
func NewUsefulURLMatcher(excludePaths []string) *PathMatcher {
	if len(excludePaths) == 0 {
		excludePaths = DefaultExcludePaths
	}
	return NewPathMatcher(append(append([]string{}, downloadPatterns...), excludePaths...))
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded checks whether a URL matches any exclude pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	return m.isPathExcluded(u.Path)
}

func (m *PathMatcher) isPathExcluded(urlPath string) bool {
	urlPath = strings.ToLower(urlPath)
	if urlPath == "" {
		urlPath = "/"
	}
	for _, suffix := range pathSuffixes(urlPath) {
		for _, pattern := range m.patterns {
			if matchSegmented(pattern, suffix) {
				return true
			}
		}
	}
	return false
}

// pathSuffixes returns "/a/b/c", "/b/c", "/c".
func pathSuffixes(p string) []string {
	out := []string{p}
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[i:])
		}
	}
	return out
}

// matchSegmented performs glob matching where a pattern like "/admin/*"
// matches both "/admin/users" and "/admin/deep/nested/path".
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
		return false
	}
	// "/login*" is a prefix rule: "/login/form" and "/login.php" both match.
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[") {
		return strings.HasPrefix(urlPath, prefix)
	}
	return false
}

var usefulMatcher = NewUsefulURLMatcher(nil)

// IsUsefulURL reports whether a URL is worth fetching for page text. It
// never touches the network.
func IsUsefulURL(rawURL string) bool {
	return !usefulMatcher.IsExcluded(rawURL)
}

// IsPDFURL reports whether a URL points at a PDF document.
func IsPDFURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".pdf")
}
