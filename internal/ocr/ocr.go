// Package ocr turns invoice PDFs and images into text, page/block layout and a confidence score
// using poppler (pdftotext, pdftoppm) and tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "spa+eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit

	TessdataDir   string
	HeicConverter string // "heif-convert" | "magick" | "sips"

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	// MinTextChars is the text-layer size under which a PDF is treated as scanned.
	MinTextChars int

	ArtifactCacheDir string
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "spa+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 40
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = "./tmp"
	}
	return &Extractor{cfg: cfg, runner: newExecRunner(), logger: logger}
}

// WithRunner swaps the command runner, used to stub poppler/tesseract in tests.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// Extract picks a strategy based on file extension. Missing files, unsupported formats and
// tool failures are reported as DocumentUnreadable; an empty document is not an error and
// yields confidence 0.
func (e *Extractor) Extract(ctx context.Context, path string) (entity.OCRResult, error) {
	start := time.Now()
	logger := common.LoggerFrom(ctx, e.logger).With("path", path)

	st, err := os.Stat(path)
	if err != nil {
		logger.Error("ocr.stat_failed", "error", err)
		return entity.OCRResult{}, common.Unreadable(path, err)
	}
	if st.IsDir() {
		return entity.OCRResult{}, common.Unreadable(path, errors.New("path is a directory"))
	}

	ext := constants.NormalizeExt(filepath.Ext(path))
	logger.Debug("ocr.start", "ext", ext, "size", st.Size())

	var res entity.OCRResult
	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		res, err = e.extractPDF(ctx, path)
	case constants.IMAGE:
		res, err = e.extractImageFile(ctx, path, ext)
	default:
		logger.Error("ocr.unsupported_extension", "ext", ext)
		return entity.OCRResult{}, common.Unreadable(path, fmt.Errorf("unsupported extension: %q", ext))
	}
	res.Duration = time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entity.OCRResult{}, ctxErr
		}
		logger.Error("ocr.failed", "method", res.Method, "error", err, "warnings", res.Warnings)
		return entity.OCRResult{}, common.Unreadable(path, err)
	}

	logger.Info("ocr.ok",
		"method", res.Method,
		"pages", len(res.Pages),
		"text_len", len(res.Text),
		"confidence", res.Confidence,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) extractImageFile(ctx context.Context, path, ext string) (entity.OCRResult, error) {
	var warns []string
	if constants.IsHEICExt(ext) {
		hashHex, _ := common.ContentHashFromContext(ctx)
		out, w, cleanup, err := convertHEICtoPNG(ctx, e.runner, e.logger, e.cfg.HeicConverter, path, e.cfg.ArtifactCacheDir, hashHex)
		warns = append(warns, w...)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return entity.OCRResult{SourceType: constants.IMAGE, Warnings: warns}, err
		}
		path = out
	}
	res, err := e.extractImage(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	return res, err
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
