package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/classify"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/validation"
)

const reasonDoubtful = "Validación dudosa"

func (p *Pipeline) ocrStage(ctx context.Context, snap *entity.ProcessingSnapshot, path string, logger *slog.Logger) error {
	if snap.OCR.Completed() {
		logger.Debug("pipeline.ocr.cached", "confidence", snap.OCR.Payload.Confidence)
		return nil
	}

	r, err := p.ocr.Extract(ctx, path)
	if err != nil {
		return err
	}
	snap.SaveOCR(r, p.now())
	if err := p.save(ctx, snap); err != nil {
		return err
	}
	logger.Info("pipeline.ocr.ok",
		"method", r.Method,
		"chars", len(r.Text),
		"confidence", r.Confidence,
		"duration_ms", r.Duration.Milliseconds(),
	)
	return nil
}

// classifyStage never fails the run except on cancellation or storage errors. It reports
// whether the label in use is degraded.
func (p *Pipeline) classifyStage(ctx context.Context, snap *entity.ProcessingSnapshot, logger *slog.Logger) (bool, error) {
	if snap.Classification.Completed() {
		c := snap.Classification.Payload
		logger.Debug("pipeline.classify.cached", "document_type", c.DocumentType)
		return c.Degraded, nil
	}

	c, err := p.classifier.Classify(ctx, snap.OCR.Payload)
	if err != nil {
		if IsCanceled(err) {
			return false, err
		}
		// not checkpointed, the next run asks again
		logger.Warn("pipeline.classify.unavailable", "error", err, "transport", errors.Is(err, classify.ErrUnavailable))
		return true, nil
	}

	snap.SaveClassification(c, p.now())
	if err := p.save(ctx, snap); err != nil {
		return false, err
	}
	if !c.IsInvoice() {
		logger.Warn("pipeline.classify.not_invoice", "document_type", c.DocumentType, "degraded", c.Degraded)
	} else {
		logger.Info("pipeline.classify.ok",
			"document_type", c.DocumentType,
			"language", c.Language,
			"supplier_guess", c.SupplierGuess,
		)
	}
	return c.Degraded, nil
}

// extractStage returns the extraction to validate and whether it was produced in this run.
func (p *Pipeline) extractStage(ctx context.Context, snap *entity.ProcessingSnapshot, logger *slog.Logger) (entity.ExtractionResult, bool, error) {
	if snap.ExtractionReusable(p.cfg.SchemaVersion) {
		e, err := decodeExtraction(snap.Extraction.Payload)
		if err == nil {
			logger.Debug("pipeline.extract.cached", "high_precision", snap.Extraction.Payload.HighPrecision)
			return e, false, nil
		}
		logger.Warn("pipeline.extract.cache_corrupt", "error", err)
	}

	// a stored payload here is stale (other schema version or unreadable)
	force := snap.Extraction.Completed()
	if force {
		logger.Info("pipeline.extract.invalidated",
			"stored_schema", snap.Extraction.Payload.SchemaVersion,
			"schema", p.cfg.SchemaVersion,
		)
	}

	e, payload, err := p.callExtractor(ctx, snap, false)
	if err != nil {
		return entity.ExtractionResult{}, false, err
	}
	snap.SaveExtraction(payload, p.now(), force)
	if err := p.save(ctx, snap); err != nil {
		return entity.ExtractionResult{}, false, err
	}
	logger.Info("pipeline.extract.ok", "tier", extract.TierCheap, "invoice_number", e.InvoiceNumber)
	return e, true, nil
}

func (p *Pipeline) validateStage(ctx context.Context, snap *entity.ProcessingSnapshot, e entity.ExtractionResult, logger *slog.Logger) (entity.ValidationResult, error) {
	if snap.Validation.Completed() && !snap.ValidationStale() {
		return snap.Validation.Payload, nil
	}

	v := p.validate(snap, e)
	snap.SaveValidation(v, p.now(), true)
	if err := p.save(ctx, snap); err != nil {
		return entity.ValidationResult{}, err
	}
	logger.Info("pipeline.validate.ok", "status", v.Status, "issues", len(v.Errors))
	return v, nil
}

// escalationReason is evaluated once per run; a snapshot that already escalated never does again.
func (p *Pipeline) escalationReason(snap *entity.ProcessingSnapshot, v entity.ValidationResult) (string, bool) {
	if !p.cfg.FallbackEnabled || snap.FallbackTriggered() {
		return "", false
	}
	var parts []string
	if conf := snap.OCR.Payload.Confidence; conf < p.cfg.OCRConfidenceThreshold {
		parts = append(parts, fmt.Sprintf("OCR %.0f%%", conf*100))
	}
	if v.Status != constants.ValidationOK {
		parts = append(parts, reasonDoubtful)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " | "), true
}

// escalate re-extracts with the expensive tier and re-validates. Extraction, validation and the
// fallback flag land in a single update.
func (p *Pipeline) escalate(ctx context.Context, snap *entity.ProcessingSnapshot, reason string, logger *slog.Logger) (entity.ExtractionResult, entity.ValidationResult, error) {
	logger.Info("pipeline.escalate", "reason", reason)

	e, payload, err := p.callExtractor(ctx, snap, true)
	if err != nil {
		return entity.ExtractionResult{}, entity.ValidationResult{}, err
	}

	at := p.now()
	snap.SaveExtraction(payload, at, true)
	v := p.validate(snap, e)
	snap.SaveValidation(v, at, true)
	snap.MarkFallback(reason, at)
	if err := p.save(ctx, snap); err != nil {
		return entity.ExtractionResult{}, entity.ValidationResult{}, err
	}
	logger.Info("pipeline.escalate.ok", "status", v.Status, "issues", len(v.Errors))
	return e, v, nil
}

func (p *Pipeline) callExtractor(ctx context.Context, snap *entity.ProcessingSnapshot, highPrecision bool) (entity.ExtractionResult, entity.ExtractionPayload, error) {
	e, err := p.extractor.Extract(ctx, extract.Request{
		OCRText:       snap.OCR.Payload.Text,
		HighPrecision: highPrecision,
		CacheKey:      snap.SourceFileHash,
	})
	if err != nil {
		return entity.ExtractionResult{}, entity.ExtractionPayload{}, err
	}
	payload, err := encodeExtraction(e, p.cfg.SchemaVersion, highPrecision)
	if err != nil {
		return entity.ExtractionResult{}, entity.ExtractionPayload{}, common.ExtractionFailed("encode extraction", err)
	}
	return e, payload, nil
}

func (p *Pipeline) validate(snap *entity.ProcessingSnapshot, e entity.ExtractionResult) entity.ValidationResult {
	v := validation.Validate(e, validation.Options{
		TotalTolerance: p.cfg.TotalTolerance,
		Now:            p.now(),
	})
	v.ExtractionHash = snap.Extraction.Payload.Hash
	return v
}

func encodeExtraction(e entity.ExtractionResult, schemaVersion string, highPrecision bool) (entity.ExtractionPayload, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return entity.ExtractionPayload{}, err
	}
	return entity.ExtractionPayload{
		Payload:       raw,
		SchemaVersion: schemaVersion,
		Hash:          hashBytes(raw),
		Confidence:    e.Confidence,
		HighPrecision: highPrecision,
	}, nil
}

func decodeExtraction(p entity.ExtractionPayload) (entity.ExtractionResult, error) {
	var e entity.ExtractionResult
	if err := json.Unmarshal(p.Payload, &e); err != nil {
		return entity.ExtractionResult{}, err
	}
	return e, nil
}
