package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// extractPDF prefers the embedded text layer and rasterizes only when it is too thin
// to be a real invoice.
func (e *Extractor) extractPDF(ctx context.Context, path string) (entity.OCRResult, error) {
	var warns []string

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		// pdfcpu is stricter than poppler; a malformed xref still renders fine
		warns = append(warns, fmt.Sprintf("pdfcpu page count: %v", err))
		pageCount = 0
	}

	txt, pages, w, err := e.pdfToText(ctx, path)
	warns = append(warns, w...)
	if err != nil {
		if ctx.Err() != nil {
			return entity.OCRResult{}, ctx.Err()
		}
		warns = append(warns, fmt.Sprintf("pdftotext: %v", err))
	}
	txt = Normalize(txt)

	if err == nil && len([]rune(txt)) >= e.cfg.MinTextChars {
		if pageCount > 0 {
			pages = pageCount
		}
		return entity.OCRResult{
			Text:       txt,
			Confidence: clamp01(0.6 + 0.4*heuristicConfidence(txt)),
			Pages:      textPages(txt, pages),
			SourceType: constants.PDF,
			Method:     "pdf-text",
			Language:   e.cfg.TesseractLang,
			Warnings:   warns,
		}, nil
	}

	e.logger.Debug("ocr.pdf.raster_fallback", "path", path, "text_len", len(txt), "pages", pageCount)
	res, err := e.pdfToOCR(ctx, path)
	res.Warnings = append(warns, res.Warnings...)
	return res, err
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, e.logger, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}
	text = string(out)
	// form feed separates pages
	pages = 1 + strings.Count(strings.TrimRight(text, "\f"), "\f")
	return text, pages, nil, nil
}

func (e *Extractor) pdfToOCR(ctx context.Context, path string) (entity.OCRResult, error) {
	res := entity.OCRResult{SourceType: constants.PDF, Method: "pdf-ocr", Language: e.cfg.TesseractLang}

	tmpDir, err := os.MkdirTemp("", "inv-pp-*")
	if err != nil {
		return res, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr.tmp_cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(e.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	// pdftoppm -r 300 -png [-l N] <in.pdf> <tmp/page>
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, e.logger, args...); err != nil {
		res.Warnings = append(res.Warnings, string(errb))
		return res, fmt.Errorf("pdftoppm: %w", err)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		res.Warnings = append(res.Warnings, "pdftoppm produced no images")
		return res, fmt.Errorf("no pages rendered")
	}

	var (
		b       strings.Builder
		confSum float64
		words   int
	)
	for i, img := range matches {
		doc, w, err := e.tesseractTSV(ctx, img, i+1)
		res.Warnings = append(res.Warnings, w...)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		res.Pages = append(res.Pages, doc.page)
		if doc.text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(doc.text)
		confSum += doc.confidence * float64(doc.words)
		words += doc.words
	}

	res.Text = Normalize(b.String())
	if res.Text != "" {
		engine := 0.0
		if words > 0 {
			engine = confSum / float64(words)
		}
		res.Confidence = blendConfidence(engine, heuristicConfidence(res.Text))
	}
	return res, nil
}

// textPages gives text-layer PDFs one block per page so the layout shape matches the OCR path.
func textPages(txt string, n int) []entity.OCRPage {
	parts := strings.Split(txt, "\f")
	if n < len(parts) {
		n = len(parts)
	}
	pages := make([]entity.OCRPage, n)
	for i := range pages {
		pages[i].PageNumber = i + 1
		if i < len(parts) {
			if t := strings.TrimSpace(parts[i]); t != "" {
				pages[i].Blocks = []entity.OCRBlock{{Text: t, Confidence: 1}}
			}
		}
	}
	return pages
}
