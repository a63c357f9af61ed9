package extract

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TextExtractor turns a document on disk into normalized text.
// Implementations are read-only and safe to call repeatedly on the same path.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

type Result struct {
	Text     string
	Pages    int
	Method   string // "pdf-text" | "pdf-ocr"
	Language string
	Duration time.Duration
	Warnings []string
	Quality  float32 // 0..1 heuristic
}

// ExtractorFunc adapts a plain function to TextExtractor.
type ExtractorFunc func(ctx context.Context, path string) (Result, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (Result, error) {
	return f(ctx, path)
}

// ExtractionError is unrecoverable for a conversion: no completion is attempted after it.
type ExtractionError struct {
	Path  string
	Cause error
}

func (e *ExtractionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("extraction failed for %s", e.Path)
	}
	return fmt.Sprintf("extraction failed for %s: %v", e.Path, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}
