package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is the business record handed to invoice persistence.
type Invoice struct {
	ID                   uuid.UUID        `json:"id"`
	InvoiceNumber        string           `json:"invoice_number"`
	SupplierName         string           `json:"supplier_name"`
	SupplierTaxID        string           `json:"supplier_tax_id,omitempty"`
	IssueDate            time.Time        `json:"issue_date"`
	DueDate              *time.Time       `json:"due_date,omitempty"`
	ReceivedDate         time.Time        `json:"received_date"`
	Subtotal             decimal.Decimal  `json:"subtotal"`
	TaxAmount            *decimal.Decimal `json:"tax_amount,omitempty"`
	TaxRate              *decimal.Decimal `json:"tax_rate,omitempty"`
	WithholdingAmount    *decimal.Decimal `json:"withholding_amount,omitempty"`
	WithholdingRate      *decimal.Decimal `json:"withholding_rate,omitempty"`
	Total                decimal.Decimal  `json:"total"`
	Currency             string           `json:"currency"`
	Origin               string           `json:"origin"`
	SourceFilePath       string           `json:"source_file_path"`
	Notes                string           `json:"notes,omitempty"`
	ExtractionConfidence *float64         `json:"extraction_confidence,omitempty"`
	Lines                []InvoiceLine    `json:"lines,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

// InvoiceLine is a detail line; InvoiceID is fixed at construction.
type InvoiceLine struct {
	ID          uuid.UUID        `json:"id"`
	InvoiceID   uuid.UUID        `json:"invoice_id"`
	LineNumber  int              `json:"line_number"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	LineTotal   decimal.Decimal  `json:"line_total"`
}

func NewInvoice(
	number, supplier string,
	issueDate, receivedDate time.Time,
	subtotal, total decimal.Decimal,
	currency, origin, sourcePath string,
) *Invoice {
	return &Invoice{
		ID:             uuid.New(),
		InvoiceNumber:  number,
		SupplierName:   supplier,
		IssueDate:      issueDate.UTC(),
		ReceivedDate:   receivedDate.UTC(),
		Subtotal:       subtotal,
		Total:          total,
		Currency:       currency,
		Origin:         origin,
		SourceFilePath: sourcePath,
		CreatedAt:      receivedDate.UTC(),
	}
}

func NewInvoiceLine(invoiceID uuid.UUID, lineNumber int, description string, quantity, unitPrice, lineTotal decimal.Decimal, taxRate *decimal.Decimal) InvoiceLine {
	return InvoiceLine{
		ID:          uuid.New(),
		InvoiceID:   invoiceID,
		LineNumber:  lineNumber,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		TaxRate:     taxRate,
		LineTotal:   lineTotal,
	}
}

// AddLine appends a detail line owned by this invoice. Line numbers are unique per invoice:
// a non-positive or already used number is replaced by the next one after the highest seen.
func (i *Invoice) AddLine(lineNumber int, description string, quantity, unitPrice, lineTotal decimal.Decimal, taxRate *decimal.Decimal) int {
	highest := 0
	taken := false
	for _, l := range i.Lines {
		highest = max(highest, l.LineNumber)
		if l.LineNumber == lineNumber {
			taken = true
		}
	}
	if lineNumber <= 0 || taken {
		lineNumber = highest + 1
	}
	i.Lines = append(i.Lines, NewInvoiceLine(i.ID, lineNumber, description, quantity, unitPrice, lineTotal, taxRate))
	return lineNumber
}

func (i *Invoice) SetTax(amount, rate *decimal.Decimal) {
	i.TaxAmount, i.TaxRate = amount, rate
}

func (i *Invoice) SetWithholding(amount, rate *decimal.Decimal) {
	i.WithholdingAmount, i.WithholdingRate = amount, rate
}

func (i *Invoice) SetExtractionConfidence(c float64) {
	i.ExtractionConfidence = &c
}

// AppendNotes adds lines to the free-text notes.
func (i *Invoice) AppendNotes(lines ...string) {
	if len(lines) == 0 {
		return
	}
	joined := strings.Join(lines, "\n")
	if i.Notes == "" {
		i.Notes = joined
		return
	}
	i.Notes += "\n" + joined
}
