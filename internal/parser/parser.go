package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"docchat/internal/models"
)

// Strategy extracts text from the formats it supports.
type Strategy interface {
	Name() string
	Supports(ext string) bool
	Extract(ctx context.Context, filePath string) (string, error)
}

// Extractor tries its strategies in order until one returns non-empty text.
type Extractor struct {
	strategies []Strategy
}

func NewExtractor(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// NewDefaultExtractor returns the extractor used by the service. For each
// format the more faithful strategy comes first.
func NewDefaultExtractor() *Extractor {
	return NewExtractor(
		pdfPlainText{},
		pdfPages{},
		pdfRows{},
		docxText{},
		pptxText{},
		excelizeSheets{},
		xlsxSheets{},
		markdownText{},
		plainText{},
	)
}

func fileExt(filePath string) string {
	return strings.ToLower(filepath.Ext(filePath))
}

// Supports reports whether any strategy handles the file's extension
func (e *Extractor) Supports(filePath string) bool {
	ext := fileExt(filePath)
	for _, s := range e.strategies {
		if s.Supports(ext) {
			return true
		}
	}
	return false
}

// Extensions lists every supported extension, in strategy order
func (e *Extractor) Extensions() []string {
	var out []string
	seen := map[string]bool{}
	for _, ext := range knownExtensions {
		if !seen[ext] && e.Supports("f"+ext) {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}

var knownExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".md", ".markdown", ".txt", ".csv"}

// Extract returns the text of the document at filePath. Failures of all
// applicable strategies are reported as models.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, filePath string) (string, error) {
	ext := fileExt(filePath)

	var tried []string
	var lastErr error
	for _, s := range e.strategies {
		if !s.Supports(ext) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", models.Wrap(models.ErrExtraction, "extract "+filepath.Base(filePath), err)
		}

		tried = append(tried, s.Name())
		text, err := safeExtract(ctx, s, filePath)
		if err != nil {
			log.Debug().Err(err).Str("strategy", s.Name()).Str("file", filePath).Msg("Extraction strategy failed")
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) == "" {
			log.Debug().Str("strategy", s.Name()).Str("file", filePath).Msg("Extraction strategy returned no text")
			continue
		}

		log.Debug().Str("strategy", s.Name()).Str("file", filePath).Int("chars", len(text)).Msg("Extracted text")
		return text, nil
	}

	switch {
	case len(tried) == 0:
		return "", models.Errorf(models.ErrExtraction, "unsupported file format: %s", ext)
	case lastErr != nil:
		return "", models.Wrap(models.ErrExtraction, fmt.Sprintf("extract %s (tried %s)", filepath.Base(filePath), strings.Join(tried, ", ")), lastErr)
	default:
		return "", models.Errorf(models.ErrExtraction, "no text extracted from %s", filepath.Base(filePath))
	}
}

// the pdf and office readers panic on some malformed inputs
func safeExtract(ctx context.Context, s Strategy, filePath string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.Name(), r)
		}
	}()
	return s.Extract(ctx, filePath)
}
