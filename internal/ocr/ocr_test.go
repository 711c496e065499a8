package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/munivars/internal/config"
)

func TestNew(t *testing.T) {
	ext, err := New(config.OCRConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, ext)

	ext, err = New(config.OCRConfig{})
	require.NoError(t, err)
	assert.Nil(t, ext)

	ext, err = New(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	require.IsType(t, &PdfToText{}, ext)
	assert.Equal(t, "/usr/bin/pdftotext", ext.(*PdfToText).binPath)

	ext, err = New(config.OCRConfig{Provider: "mistral", MistralKey: "k", MistralModel: "m"})
	require.NoError(t, err)
	require.IsType(t, &Mistral{}, ext)
	assert.Equal(t, "m", ext.(*Mistral).model)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.OCRConfig{Provider: "mistral"})
	assert.ErrorContains(t, err, "requires ocr.mistral_key")

	_, err = New(config.OCRConfig{Provider: "tesseract"})
	assert.ErrorContains(t, err, `unknown provider "tesseract"`)
}

func TestMistral_Defaults(t *testing.T) {
	m := NewMistral("key", WithModel(""))
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralEndpoint, m.endpoint)
	assert.Equal(t, "mistral", m.Name())
}

func TestMistral_ExtractText(t *testing.T) {
	pdf := []byte("%PDF-1.4 scanned")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Equal(t, "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString(pdf), req.Document.DocumentURL)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"住民票の写し 300円"},{"index":1,"markdown":"印鑑登録証明書 300円"}]}`))
	}))
	defer srv.Close()

	m := NewMistral("test-key", WithModel("test-model"), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	text, err := m.ExtractText(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, "住民票の写し 300円\n\n印鑑登録証明書 300円", text)
}

func TestMistral_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	m := NewMistral("bad-key", WithEndpoint(srv.URL))
	_, err := m.ExtractText(context.Background(), []byte("%PDF"))
	assert.ErrorContains(t, err, "mistral returned 401")
}

func TestMistral_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{invalid json`))
	}))
	defer srv.Close()

	m := NewMistral("key", WithEndpoint(srv.URL))
	_, err := m.ExtractText(context.Background(), []byte("%PDF"))
	assert.ErrorContains(t, err, "unmarshal mistral response")
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), []byte("%PDF"))
	assert.ErrorContains(t, err, "pdftotext")
}

func TestPdfToText_ExtractText(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	fakeBin := filepath.Join(dir, "pdftotext")
	// Prints the input file, which is the second to last argument.
	script := "#!/bin/sh\nshift $(($# - 2))\ncat \"$1\"\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0o755))

	p := NewPdfToText(fakeBin)
	assert.Equal(t, "pdftotext", p.Name())
	text, err := p.ExtractText(context.Background(), []byte("手数料一覧"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, "手数料一覧"))
}

func TestPdfToText_DefaultBinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
}
