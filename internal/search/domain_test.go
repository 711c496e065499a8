package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOfficialDomain(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.city.takaoka.toyama.jp/gomi/", true},
		{"https://www.pref.toyama.jp/", true},
		{"https://city.example.jp/", true},
		{"https://www.town.kamiichi.lg.jp/", true},
		{"https://www.soumu.go.jp/", true},
		{"https://foo.city.kyoto.jp/", true},
		{"https://takaoka-city.jp/", true},
		{"https://nishi-machi.jp/", true},
		{"https://example.com/", false},
		{"https://gomi-info.com/", false},
		{"https://takaoka-city.com/", false},
		{"::not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOfficialDomain(tt.url))
		})
	}
}

func TestURLCredibility(t *testing.T) {
	assert.InDelta(t, 0.9, URLCredibility("https://www.city.example.lg.jp/a"), 1e-9)
	assert.InDelta(t, 0.8, URLCredibility("http://www.city.example.lg.jp/a"), 1e-9)
	assert.InDelta(t, 0.6, URLCredibility("https://example.com/"), 1e-9)
	assert.InDelta(t, 0.5, URLCredibility("http://example.com/"), 1e-9)
}

func TestSameHost(t *testing.T) {
	assert.True(t, SameHost("https://WWW.city.a.lg.jp/x", "http://www.city.a.lg.jp/y"))
	assert.False(t, SameHost("https://a.lg.jp/", "https://b.lg.jp/"))
	assert.False(t, SameHost("", ""))
}
