package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/pdf2schema/constants"
)

const (
	MethodPDFText = "pdf-text"
	MethodPDFOCR  = "pdf-ocr"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	// MinTextChars is the text-layer size below which pages are OCRed instead.
	MinTextChars int

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

type ExtractionResult struct {
	Text       string
	Pages      int
	Method     string // "pdf-text" | "pdf-ocr"
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

// textLayerFunc returns the text of every page of a PDF.
type textLayerFunc func(path string) ([]string, error)

type Extractor struct {
	cfg       Config
	runner    Runner
	textLayer textLayerFunc
	logger    *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return NewExtractorWithRunner(cfg, execRunner{logger: logger}, logger)
}

// NewExtractorWithRunner lets tests stub the external binaries.
func NewExtractorWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextChars < 0 {
		cfg.MinTextChars = 0
	}
	return &Extractor{cfg: cfg, runner: runner, textLayer: pdfTextLayer, logger: logger}
}

// Extract reads the PDF text layer and falls back to rasterize+OCR when the
// layer is missing or too thin to be a real document.
func (e *Extractor) Extract(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !constants.IsPDF(ext) {
		e.logger.Error("ocr.extract.unsupported", "path", path, "extension", ext)
		return ExtractionResult{}, fmt.Errorf("unsupported extension: %q", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return ExtractionResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	e.logger.Debug("ocr.extract.start", "path", path)

	var warnings []string
	pages, layerErr := e.textLayer(path)
	if layerErr != nil {
		e.logger.Warn("ocr.text_layer.failed", "path", path, "error", layerErr)
		warnings = append(warnings, "text layer: "+layerErr.Error())
	}
	layerText := Normalize(strings.Join(pages, "\n\f\n"))

	if layerErr == nil && e.layerUsable(layerText) {
		res := ExtractionResult{
			Text:       layerText,
			Pages:      len(pages),
			Method:     MethodPDFText,
			Warnings:   warnings,
			Confidence: heuristicConfidence(layerText),
			Duration:   time.Since(start),
		}
		e.logger.Info("ocr.extract.ok", "path", path, "method", res.Method, "pages", res.Pages,
			"chars", len(res.Text), "elapsed_ms", res.Duration.Milliseconds())
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return ExtractionResult{Warnings: warnings}, err
	}

	ocrText, n, ocrWarnings, ocrErr := e.pdfToOCR(ctx, path)
	warnings = append(warnings, ocrWarnings...)
	ocrText = Normalize(ocrText)
	if ocrErr != nil || ocrText == "" {
		if ocrErr == nil {
			ocrErr = errors.New("ocr produced no text")
		}
		if layerText != "" {
			// thin text layer beats nothing
			e.logger.Warn("ocr.fallback.failed_using_text_layer", "path", path, "error", ocrErr)
			return ExtractionResult{
				Text:       layerText,
				Pages:      len(pages),
				Method:     MethodPDFText,
				Warnings:   append(warnings, ocrErr.Error()),
				Confidence: heuristicConfidence(layerText),
				Duration:   time.Since(start),
			}, nil
		}
		e.logger.Error("ocr.extract.failed", "path", path, "error", ocrErr)
		return ExtractionResult{Warnings: warnings, Duration: time.Since(start)}, ocrErr
	}

	res := ExtractionResult{
		Text:       ocrText,
		Pages:      n,
		Method:     MethodPDFOCR,
		Language:   e.cfg.TesseractLang,
		Warnings:   warnings,
		Confidence: heuristicConfidence(ocrText),
		Duration:   time.Since(start),
	}
	e.logger.Info("ocr.extract.ok", "path", path, "method", res.Method, "pages", res.Pages,
		"chars", len(res.Text), "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}

func (e *Extractor) layerUsable(text string) bool {
	if text == "" || len(text) < e.cfg.MinTextChars {
		return false
	}
	return printableRatio(text) >= 0.85
}
