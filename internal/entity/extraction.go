package entity

import "github.com/shopspring/decimal"

// ExtractionResult is the structured invoice data returned by the extractor.
// IssueDate and DueDate are kept as the model wrote them; parse.ParseDate interprets them.
type ExtractionResult struct {
	InvoiceNumber     string           `json:"invoice_number"`
	SupplierName      string           `json:"supplier_name"`
	SupplierTaxID     string           `json:"supplier_tax_id,omitempty"`
	IssueDate         string           `json:"issue_date"`
	DueDate           string           `json:"due_date,omitempty"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	TaxAmount         *decimal.Decimal `json:"tax_amount,omitempty"`
	TaxRate           *decimal.Decimal `json:"tax_rate,omitempty"`
	WithholdingAmount *decimal.Decimal `json:"withholding_amount,omitempty"`
	WithholdingRate   *decimal.Decimal `json:"withholding_rate,omitempty"`
	SubtotalAmount    *decimal.Decimal `json:"subtotal_amount,omitempty"`
	Currency          string           `json:"currency"`
	Lines             []ExtractionLine `json:"lines,omitempty"`
	// Confidence is the model's self-reported confidence, 0 when absent.
	Confidence float64 `json:"confidence,omitempty"`
}

type ExtractionLine struct {
	LineNumber  int              `json:"line_number"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	LineTotal   decimal.Decimal  `json:"line_total"`
}

// Subtotal returns the declared subtotal or derives it as total - tax + withholding.
func (e ExtractionResult) Subtotal() decimal.Decimal {
	if e.SubtotalAmount != nil {
		return *e.SubtotalAmount
	}
	return e.TotalAmount.Sub(valueOrZero(e.TaxAmount)).Add(valueOrZero(e.WithholdingAmount))
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
