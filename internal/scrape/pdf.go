package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/model"
)

const maxPDFBytes = 10 * 1024 * 1024

// TextExtractor recovers text from a PDF without a text layer.
type TextExtractor interface {
	Name() string
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// PDFScraper downloads PDF documents and extracts their text layer. Scanned
// PDFs go to the OCR extractor when one is set and fail otherwise.
type PDFScraper struct {
	client    *http.Client
	userAgent string
	ocr       TextExtractor
}

// PDFOption configures a PDFScraper.
type PDFOption func(*PDFScraper)

// WithOCR sets the fallback for scanned documents. A nil extractor is ignored.
func WithOCR(x TextExtractor) PDFOption {
	return func(p *PDFScraper) {
		if x != nil {
			p.ocr = x
		}
	}
}

// NewPDFScraper creates a PDFScraper.
func NewPDFScraper(userAgent string, timeout time.Duration, opts ...PDFOption) *PDFScraper {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &PDFScraper{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *PDFScraper) Name() string { return "pdf" }

// Supports only .pdf URLs.
func (p *PDFScraper) Supports(url string) bool { return IsPDFURL(url) }

// Scrape downloads and reads a PDF.
func (p *PDFScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(err, "pdf: create request"), false)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(err, "pdf: fetch"), true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := model.NewError(model.ErrPageFetchFailed, fmt.Sprintf("pdf: status %d", resp.StatusCode), resp.StatusCode >= 500)
		e.StatusCode = resp.StatusCode
		return nil, e
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, eris.Wrap(err, "pdf: read body"), true)
	}

	source := "pdf"
	text, err := PDFText(body)
	if err != nil && p.ocr == nil {
		return nil, model.WrapError(model.ErrPageFetchFailed, err, false)
	}
	if text == "" && p.ocr != nil {
		zap.L().Debug("pdf: no text layer, trying ocr", zap.String("url", targetURL), zap.String("ocr", p.ocr.Name()))
		raw, oerr := p.ocr.ExtractText(ctx, body)
		if oerr != nil {
			return nil, model.WrapError(model.ErrPageFetchFailed, oerr, false)
		}
		text = collapseWhitespace(raw)
		source = "pdf-" + p.ocr.Name()
	}
	if text == "" {
		return nil, model.NewError(model.ErrPageFetchFailed, "pdf: no text layer: "+targetURL, false)
	}

	return &Result{
		Page: model.PageContent{
			URL:        targetURL,
			Text:       text,
			StatusCode: resp.StatusCode,
			Source:     source,
			FetchedAt:  time.Now().UTC(),
		},
		Source: source,
	}, nil
}

// PDFText extracts the plain text of a PDF document with collapsed
// whitespace.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "pdf: open document")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", eris.Wrap(err, "pdf: extract text")
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", eris.Wrap(err, "pdf: read text")
	}
	return collapseWhitespace(buf.String()), nil
}
