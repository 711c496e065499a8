package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateJSON(text, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
			"finishReason": finish,
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 42, "candidatesTokenCount": 7, "totalTokenCount": 49},
	})
	return string(b)
}

func TestGenerateContent_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body requestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "hello", body.Contents[0].Parts[0].Text)
		assert.InDelta(t, 0.3, body.GenerationConfig.Temperature, 1e-9)
		assert.Equal(t, 2048, body.GenerationConfig.MaxOutputTokens)
		assert.InDelta(t, 0.8, body.GenerationConfig.TopP, 1e-9)
		assert.Equal(t, 40, body.GenerationConfig.TopK)

		_, _ = w.Write([]byte(candidateJSON("こんにちは", "STOP")))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.GenerateContent(context.Background(), GenerateRequest{Prompt: "hello", Temperature: 0.3})

	require.NoError(t, err)
	assert.Equal(t, "こんにちは", resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.False(t, resp.Truncated())
	assert.Equal(t, 49, resp.Usage.TotalTokenCount)
}

func TestGenerateContent_ModelOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(candidateJSON("x", "MAX_TOKENS")))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithModel("gemini-2.5-flash"))
	assert.Equal(t, "gemini-2.5-flash", client.Model())

	resp, err := client.GenerateContent(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, resp.Truncated())
}

func TestGenerateContent_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), GenerateRequest{Prompt: "p"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 429, se.StatusCode)
	assert.Equal(t, "Resource exhausted", se.Message)
}

func TestGenerateContent_NonJSONStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`unavailable`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), GenerateRequest{Prompt: "p"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.StatusCode)
}

func TestGenerateContent_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestGenerateContent_EmptyCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GenerateContent(context.Background(), GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}
