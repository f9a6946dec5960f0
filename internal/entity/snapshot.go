package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// ProcessingSnapshot is the checkpoint of one physical source document, keyed by content hash.
type ProcessingSnapshot struct {
	ID             uuid.UUID `json:"id"`
	SourceFilePath string    `json:"source_file_path"`
	SourceFileHash string    `json:"source_file_hash"` // sha256 hex

	OCR            Stage[OCRResult]            `json:"ocr"`
	Classification Stage[ClassificationResult] `json:"classification"`
	Extraction     Stage[ExtractionPayload]    `json:"extraction"`
	Validation     Stage[ValidationResult]     `json:"validation"`
	Fallback       Stage[FallbackPayload]      `json:"fallback"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtractionPayload is the cached output of the extraction stage.
type ExtractionPayload struct {
	Payload       json.RawMessage `json:"payload"`        // normalized ExtractionResult JSON
	SchemaVersion string          `json:"schema_version"` // cache invalidation tag
	Hash          string          `json:"hash"`           // sha256 hex of Payload
	Confidence    float64         `json:"confidence"`
	HighPrecision bool            `json:"high_precision"`
}

// FallbackPayload records why the expensive tier was used.
type FallbackPayload struct {
	Reason string `json:"reason"`
}

func NewSnapshot(path, hash string, now time.Time) *ProcessingSnapshot {
	now = now.UTC()
	return &ProcessingSnapshot{
		ID:             uuid.New(),
		SourceFilePath: path,
		SourceFileHash: hash,
		OCR:            NotStarted[OCRResult](),
		Classification: NotStarted[ClassificationResult](),
		Extraction:     NotStarted[ExtractionPayload](),
		Validation:     NotStarted[ValidationResult](),
		Fallback:       NotStarted[FallbackPayload](),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *ProcessingSnapshot) SaveOCR(r OCRResult, at time.Time) bool {
	return s.touch(s.OCR.Complete(r, at), at)
}

func (s *ProcessingSnapshot) SaveClassification(r ClassificationResult, at time.Time) bool {
	return s.touch(s.Classification.Complete(r, at), at)
}

// SaveExtraction stores the extraction payload. force overwrites an existing payload and is
// reserved for escalation and schema-version invalidation.
func (s *ProcessingSnapshot) SaveExtraction(p ExtractionPayload, at time.Time, force bool) bool {
	if force {
		s.Extraction.Overwrite(p, at)
		return s.touch(true, at)
	}
	return s.touch(s.Extraction.Complete(p, at), at)
}

// SaveValidation stores the validation outcome. force only replaces a result computed from a
// different extraction payload, so each extraction overwrite allows one recompute.
func (s *ProcessingSnapshot) SaveValidation(r ValidationResult, at time.Time, force bool) bool {
	if force && s.ValidationStale() {
		s.Validation.Overwrite(r, at)
		return s.touch(true, at)
	}
	return s.touch(s.Validation.Complete(r, at), at)
}

// MarkFallback permanently flags the snapshot as escalated. Only the first call writes.
func (s *ProcessingSnapshot) MarkFallback(reason string, at time.Time) bool {
	return s.touch(s.Fallback.Complete(FallbackPayload{Reason: reason}, at), at)
}

func (s *ProcessingSnapshot) FallbackTriggered() bool {
	return s.Fallback.Completed()
}

func (s *ProcessingSnapshot) FallbackReason() string {
	return s.Fallback.Payload.Reason
}

// ExtractionReusable reports whether the cached extraction matches the current output schema.
func (s *ProcessingSnapshot) ExtractionReusable(schemaVersion string) bool {
	return s.Extraction.Completed() && s.Extraction.Payload.SchemaVersion == schemaVersion
}

// ValidationStale reports whether the stored validation was computed from another extraction payload.
func (s *ProcessingSnapshot) ValidationStale() bool {
	return s.Validation.Completed() && s.Extraction.Completed() &&
		s.Validation.Payload.ExtractionHash != s.Extraction.Payload.Hash
}

func (s *ProcessingSnapshot) ValidationStatus() constants.ValidationStatus {
	if !s.Validation.Completed() {
		return constants.ValidationPending
	}
	return s.Validation.Payload.Status
}

func (s *ProcessingSnapshot) touch(changed bool, at time.Time) bool {
	if changed {
		s.UpdatedAt = at.UTC()
	}
	return changed
}
