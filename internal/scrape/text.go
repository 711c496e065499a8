package scrape

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/munivars/internal/model"
)

// document is the result of reducing an HTML page.
type document struct {
	Title string
	Text  string
	Links []model.Link
}

// Subtrees dropped entirely: scripts, styles and site chrome.
var skipTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Table: true, atom.Dt: true, atom.Dd: true,
}

var (
	spaceRe = regexp.MustCompile(`[ \t]+`)
	blankRe = regexp.MustCompile(`\n\s*\n`)
)

// parseHTML walks the token stream once, collecting the title, the visible
// text and the anchors. Relative hrefs resolve against base when given.
func parseHTML(r io.Reader, base *url.URL) document {
	z := html.NewTokenizer(r)

	var (
		doc      document
		text     strings.Builder
		title    strings.Builder
		anchor   strings.Builder
		href     string
		inAnchor bool
		inTitle  bool
		skip     int
		seen     = make(map[string]bool)
	)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if skip > 0 {
				continue
			}
			switch {
			case a == atom.Title:
				inTitle = tt == html.StartTagToken
			case a == atom.A && hasAttr:
				href = attr(z, "href")
				inAnchor = tt == html.StartTagToken
				anchor.Reset()
			case blockTags[a]:
				text.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip > 0 {
				continue
			}
			switch {
			case a == atom.Title:
				inTitle = false
			case a == atom.A:
				if inAnchor {
					if u := resolveURL(base, href); u != "" && !seen[u] {
						seen[u] = true
						doc.Links = append(doc.Links, model.Link{
							URL:  u,
							Text: strings.Join(strings.Fields(anchor.String()), " "),
						})
					}
				}
				inAnchor = false
			case a == atom.Td || a == atom.Th:
				text.WriteString(" | ")
			case blockTags[a]:
				text.WriteByte('\n')
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := string(z.Text())
			if inTitle {
				title.WriteString(t)
				continue
			}
			if inAnchor {
				anchor.WriteString(t)
			}
			text.WriteString(t)
		}
	}

	doc.Title = strings.Join(strings.Fields(title.String()), " ")
	doc.Text = collapseWhitespace(text.String())
	return doc
}

func attr(z *html.Tokenizer, key string) string {
	for {
		k, v, more := z.TagAttr()
		if string(k) == key {
			return strings.TrimSpace(string(v))
		}
		if !more {
			return ""
		}
	}
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// resolveURL turns an href into an absolute http(s) URL, or "" when the
// link is a fragment, a script, a mail link or otherwise unusable.
func resolveURL(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// ExtractLinks returns the deduplicated anchors of an HTML document.
func ExtractLinks(r io.Reader, base *url.URL) []model.Link {
	return parseHTML(r, base).Links
}

// HTMLToText reduces an HTML document to its title and plain text.
func HTMLToText(r io.Reader) (title, text string) {
	doc := parseHTML(r, nil)
	return doc.Title, doc.Text
}
