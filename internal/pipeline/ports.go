package pipeline

import (
	"context"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
)

// SnapshotStore persists processing checkpoints. Get* return (nil, nil) on a miss.
type SnapshotStore interface {
	GetByHash(ctx context.Context, hash string) (*entity.ProcessingSnapshot, error)
	GetByPath(ctx context.Context, path string) (*entity.ProcessingSnapshot, error)
	Add(ctx context.Context, s *entity.ProcessingSnapshot) error
	Update(ctx context.Context, s *entity.ProcessingSnapshot) error
}

// OCRExtractor turns a file into text. Missing or unreadable files are common.ErrDocumentUnreadable.
type OCRExtractor interface {
	Extract(ctx context.Context, path string) (entity.OCRResult, error)
}

// Classifier labels OCR text. A non-nil error other than a context error still comes with a
// usable (unknown) result that must not be checkpointed.
type Classifier interface {
	Classify(ctx context.Context, ocr entity.OCRResult) (entity.ClassificationResult, error)
}

// InvoiceExtractor returns structured fields or common.ErrExtractionFailed.
type InvoiceExtractor interface {
	Extract(ctx context.Context, req extract.Request) (entity.ExtractionResult, error)
}

// InvoiceStore is the business invoice persistence. FindByInvoiceNumber returns (nil, nil) on a miss.
type InvoiceStore interface {
	FindByInvoiceNumber(ctx context.Context, number string) (*entity.Invoice, error)
	Add(ctx context.Context, inv *entity.Invoice) error
}
