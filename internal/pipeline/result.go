package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// Kind is the terminal outcome of one run.
type Kind string

const (
	KindPersisted          Kind = "PERSISTED"
	KindDuplicateInvoice   Kind = "DUPLICATE_INVOICE"
	KindExtractionFailed   Kind = "EXTRACTION_FAILED"
	KindDocumentUnreadable Kind = "DOCUMENT_UNREADABLE"
	KindFailed             Kind = "FAILED" // storage, cancellation and anything unclassified
)

// Stage names used in StageError and logs.
const (
	StageHash           = "hash"
	StageSnapshot       = "snapshot"
	StageOCR            = "ocr"
	StageClassification = "classification"
	StageExtraction     = "extraction"
	StageValidation     = "validation"
	StageEscalation     = "escalation"
	StagePersist        = "persist"
)

// Result describes one run of the pipeline over a document.
type Result struct {
	Kind       Kind
	InvoiceID  uuid.UUID
	SnapshotID uuid.UUID
	Hash       string
	// Escalated is true when this run used the expensive tier.
	Escalated              bool
	FallbackReason         string
	Validation             constants.ValidationStatus
	ValidationErrors       []string
	ClassificationDegraded bool
	Err                    error
}

func (r Result) OK() bool { return r.Kind == KindPersisted }

// StageError carries the file and stage a fatal error came from. Unwrap exposes the
// common sentinels (ErrDocumentUnreadable, ErrExtractionFailed, ErrDuplicateInvoice).
type StageError struct {
	Stage string
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s stage: %v", e.Path, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func kindOf(err error) Kind {
	switch {
	case err == nil:
		return KindPersisted
	case errors.Is(err, common.ErrDuplicateInvoice):
		return KindDuplicateInvoice
	case errors.Is(err, common.ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, common.ErrDocumentUnreadable):
		return KindDocumentUnreadable
	default:
		return KindFailed
	}
}

// IsCanceled reports whether a run stopped because its context ended.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
