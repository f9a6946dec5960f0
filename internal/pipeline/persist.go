package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/parse"
)

// persist stores the invoice unless its number is already known. The snapshot is not touched.
func (p *Pipeline) persist(ctx context.Context, snap *entity.ProcessingSnapshot, e entity.ExtractionResult, v entity.ValidationResult, logger *slog.Logger) (uuid.UUID, error) {
	number := strings.TrimSpace(e.InvoiceNumber)
	existing, err := p.invoices.FindByInvoiceNumber(ctx, number)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		logger.Info("pipeline.persist.duplicate", "invoice_number", number, "existing_id", existing.ID)
		return uuid.Nil, common.DuplicateInvoice(number)
	}

	inv := p.buildInvoice(snap, e, v, logger)
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	// a concurrent insert of the same number surfaces as DuplicateInvoice from the store
	if err := p.invoices.Add(ctx, inv); err != nil {
		return uuid.Nil, err
	}
	return inv.ID, nil
}

func (p *Pipeline) buildInvoice(snap *entity.ProcessingSnapshot, e entity.ExtractionResult, v entity.ValidationResult, logger *slog.Logger) *entity.Invoice {
	now := p.now()

	issue, ok := parse.ParseDate(e.IssueDate, now)
	if !ok {
		logger.Warn("pipeline.persist.issue_date_unparsed", "value", e.IssueDate)
	}

	supplier := strings.TrimSpace(e.SupplierName)
	if supplier == "" {
		supplier = snap.Classification.Payload.SupplierGuess
	}
	currency := strings.ToUpper(strings.TrimSpace(e.Currency))
	if currency == "" {
		currency = constants.DefaultCurrency
	}
	origin := p.cfg.Origin
	if origin == "" {
		origin = constants.OriginPipeline
	}

	inv := entity.NewInvoice(
		strings.TrimSpace(e.InvoiceNumber), supplier,
		issue, now,
		e.Subtotal(), e.TotalAmount,
		currency, origin, snap.SourceFilePath,
	)
	inv.SupplierTaxID = strings.TrimSpace(e.SupplierTaxID)
	if e.DueDate != "" {
		if due, ok := parse.ParseDate(e.DueDate, now); ok {
			inv.DueDate = &due
		} else {
			logger.Warn("pipeline.persist.due_date_unparsed", "value", e.DueDate)
		}
	}
	inv.SetTax(e.TaxAmount, e.TaxRate)
	inv.SetWithholding(e.WithholdingAmount, e.WithholdingRate)
	inv.SetExtractionConfidence(snap.OCR.Payload.Confidence)

	for _, l := range e.Lines {
		if n := inv.AddLine(l.LineNumber, l.Description, l.Quantity, l.UnitPrice, l.LineTotal, l.TaxRate); n != l.LineNumber {
			logger.Debug("pipeline.persist.line_renumbered", "from", l.LineNumber, "to", n)
		}
	}

	if v.Status == constants.ValidationDoubtful {
		inv.AppendNotes(v.Errors...)
	}
	return inv
}
