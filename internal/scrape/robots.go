package scrape

import (
	"context"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsChecker answers robots.txt questions per host, caching each host's
// rules for an hour.
type RobotsChecker struct {
	cache      *gocache.Cache
	httpClient *http.Client
	userAgent  string
}

// NewRobotsChecker creates a robots.txt checker.
func NewRobotsChecker(userAgent string, timeout time.Duration) *RobotsChecker {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &RobotsChecker{
		cache:      gocache.New(time.Hour, 10*time.Minute),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// Allowed reports whether the URL may be fetched. Hosts whose robots.txt
// cannot be read are allowed.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	data := r.rules(ctx, u)
	if data == nil {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return data.TestAgent(p, r.userAgent)
}

func (r *RobotsChecker) rules(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host
	if v, ok := r.cache.Get(key); ok {
		data, _ := v.(*robotstxt.RobotsData)
		return data
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		zap.L().Debug("scrape: robots.txt unavailable", zap.String("host", u.Host), zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var data *robotstxt.RobotsData
	if resp.StatusCode == http.StatusNotFound {
		data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	} else {
		data, err = robotstxt.FromResponse(resp)
		if err != nil {
			zap.L().Debug("scrape: robots.txt unparseable", zap.String("host", u.Host), zap.Error(err))
			return nil
		}
	}
	r.cache.SetDefault(key, data)
	return data
}
