package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var cloudflareMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
	"just a moment...",
}

var captchaMarkers = []string{"g-recaptcha", "h-captcha", "hcaptcha", "recaptcha", "captcha"}

// Mount points of client-rendered single page apps.
var spaMarkers = []string{`<div id="app"></div>`, `<div id="root"></div>`, `<div id="__nuxt"`}

// DetectBlock checks an HTTP response for anti-bot protection or a page
// that only renders with JavaScript. Blocked pages go to the render fallbacks.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	for _, m := range cloudflareMarkers {
		if strings.Contains(lower, m) {
			return true, BlockCloudflare
		}
	}
	if strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return true, BlockCaptcha
		}
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
		for _, m := range spaMarkers {
			if strings.Contains(lower, m) {
				return true, BlockJSShell
			}
		}
	}

	return false, BlockNone
}
