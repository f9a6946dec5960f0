package ocr

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

func (e *Extractor) extractImage(ctx context.Context, path string) (entity.OCRResult, error) {
	doc, warn, err := e.tesseractTSV(ctx, path, 1)
	if err != nil {
		return entity.OCRResult{SourceType: constants.IMAGE, Method: "image-ocr", Warnings: warn}, err
	}
	txt := Normalize(doc.text)

	conf := 0.0
	if txt != "" {
		conf = blendConfidence(doc.confidence, heuristicConfidence(txt))
	}

	return entity.OCRResult{
		Text:       txt,
		Confidence: conf,
		Pages:      []entity.OCRPage{doc.page},
		SourceType: constants.IMAGE,
		Method:     "image-ocr",
		Language:   e.cfg.TesseractLang,
		Warnings:   warn,
	}, nil
}

// tesseractTSV runs tesseract once in TSV mode; text, layout and word confidence
// all come from the same pass.
func (e *Extractor) tesseractTSV(ctx context.Context, path string, pageNumber int) (tsvDoc, []string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, args...)
	if err != nil {
		return tsvDoc{}, []string{string(errb)}, fmt.Errorf("tesseract: %w", err)
	}
	return parseTSV(out, pageNumber), nil, nil
}
