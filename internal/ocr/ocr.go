// Package ocr recovers text from PDFs that have no text layer, such as
// scanned fee tables and application forms.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/munivars/internal/config"
)

// Extractor extracts text content from a PDF document.
type Extractor interface {
	Name() string
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// New creates the Extractor selected by cfg. It returns nil, nil when OCR is
// disabled.
func New(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "local":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		return NewMistral(cfg.MistralKey, WithModel(cfg.MistralModel)), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
