package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/pdf2schema/internal/ocr"
)

var errNoText = errors.New("no text could be extracted")

type OCRAdapter struct {
	e      *ocr.Extractor
	logger *slog.Logger
}

func NewOCRAdapter(e *ocr.Extractor, logger *slog.Logger) *OCRAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRAdapter{e: e, logger: logger}
}

func (a *OCRAdapter) Extract(ctx context.Context, path string) (Result, error) {
	r, err := a.e.Extract(ctx, path)
	res := Result{
		Text:     ocr.Normalize(r.Text),
		Pages:    r.Pages,
		Method:   r.Method,
		Language: r.Language,
		Duration: r.Duration,
		Warnings: r.Warnings,
		Quality:  r.Confidence,
	}
	if err != nil {
		return res, &ExtractionError{Path: path, Cause: err}
	}
	if strings.TrimSpace(res.Text) == "" {
		a.logger.Warn("extract.empty_text", "path", path, "method", r.Method)
		return res, &ExtractionError{Path: path, Cause: errNoText}
	}
	return res, nil
}
