package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRobotsChecker_Rules(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /cgi-bin/\n"))
		}
	}))
	defer srv.Close()

	rc := NewRobotsChecker("MunivarsBot/1.0", time.Second)
	ctx := context.Background()

	assert.True(t, rc.Allowed(ctx, srv.URL+"/kurashi/"))
	assert.False(t, rc.Allowed(ctx, srv.URL+"/cgi-bin/search"))
	assert.True(t, rc.Allowed(ctx, srv.URL))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestRobotsChecker_MissingFileAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rc := NewRobotsChecker("", time.Second)
	assert.True(t, rc.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestRobotsChecker_UnreachableAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	rc := NewRobotsChecker("", 200*time.Millisecond)
	assert.True(t, rc.Allowed(context.Background(), addr+"/x"))
}

func TestRobotsChecker_BadURL(t *testing.T) {
	rc := NewRobotsChecker("", time.Second)
	assert.False(t, rc.Allowed(context.Background(), "not a url"))
}
