package jina

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Success(t *testing.T) {
	t.Parallel()

	want := ReadResponse{
		Code: 200,
		Data: ReadData{
			Title:   "住民票の写しの交付",
			URL:     "https://www.city.example.lg.jp/juminhyo.html",
			Content: "手数料 1通 300円",
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "text", r.Header.Get("X-Return-Format"))
		assert.Empty(t, r.Header.Get("X-Timeout"))
		assert.Equal(t, "/https://www.city.example.lg.jp/juminhyo.html", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Read(context.Background(), "https://www.city.example.lg.jp/juminhyo.html")

	require.NoError(t, err)
	assert.Equal(t, want.Data.Title, got.Data.Title)
	assert.Equal(t, want.Data.Content, got.Data.Content)
}

func TestRead_Options(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "20", r.Header.Get("X-Timeout"))
		assert.Equal(t, "true", r.Header.Get("X-With-Links-Summary"))
		_, _ = w.Write([]byte(`{"code":200,"data":{"content":"x","links":[["ごみ","https://a/gomi"]]}}`))
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL))
	got, err := client.Read(context.Background(), "https://a/",
		WithFormat("markdown"), WithRenderTimeout(20*time.Second), WithLinks())

	require.NoError(t, err)
	require.Len(t, got.Data.Links, 1)
	assert.Equal(t, "https://a/gomi", got.Data.Links[0][1])
}

func TestRead_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Read(context.Background(), "https://a/")

	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, err.Error(), "429")
}

func TestRead_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Read(context.Background(), "https://a/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
