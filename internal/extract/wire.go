package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/parse"
)

// flexAmount holds a money value as the model wrote it: a JSON number or string.
type flexAmount string

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexAmount(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		*f = flexAmount(n.String())
	}
	return nil
}

type wireLine struct {
	LineNumber  *int       `json:"line_number"`
	Description string     `json:"description"`
	Quantity    flexAmount `json:"quantity"`
	UnitPrice   flexAmount `json:"unit_price"`
	TaxRate     flexAmount `json:"tax_rate"`
	LineTotal   flexAmount `json:"line_total"`
}

type wireInvoice struct {
	InvoiceNumber     string     `json:"invoice_number"`
	SupplierName      string     `json:"supplier_name"`
	SupplierTaxID     string     `json:"supplier_tax_id"`
	IssueDate         string     `json:"issue_date"`
	DueDate           string     `json:"due_date"`
	TotalAmount       flexAmount `json:"total_amount"`
	TaxAmount         flexAmount `json:"tax_amount"`
	TaxRate           flexAmount `json:"tax_rate"`
	WithholdingAmount flexAmount `json:"withholding_amount"`
	WithholdingRate   flexAmount `json:"withholding_rate"`
	SubtotalAmount    flexAmount `json:"subtotal_amount"`
	Currency          string     `json:"currency"`
	Lines             []wireLine `json:"lines"`
	Confidence        *float64   `json:"confidence"`
}

// toEntity converts the model answer. Any amount that does not parse is an error:
// a guessed figure would corrupt the financial record.
func (w wireInvoice) toEntity() (entity.ExtractionResult, error) {
	out := entity.ExtractionResult{
		InvoiceNumber: strings.TrimSpace(w.InvoiceNumber),
		SupplierName:  strings.TrimSpace(w.SupplierName),
		SupplierTaxID: strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(w.SupplierTaxID), " ", "")),
		IssueDate:     strings.TrimSpace(w.IssueDate),
		DueDate:       strings.TrimSpace(w.DueDate),
		Currency:      strings.ToUpper(strings.TrimSpace(w.Currency)),
	}
	if out.InvoiceNumber == "" {
		return entity.ExtractionResult{}, fmt.Errorf("invoice_number is empty")
	}
	if out.Currency == "" {
		out.Currency = constants.DefaultCurrency
	}
	if w.Confidence != nil {
		out.Confidence = *w.Confidence
	}

	total, err := requiredAmount("total_amount", w.TotalAmount)
	if err != nil {
		return entity.ExtractionResult{}, err
	}
	out.TotalAmount = total

	for _, f := range []struct {
		name string
		raw  flexAmount
		dst  **decimal.Decimal
		pct  bool
	}{
		{"tax_amount", w.TaxAmount, &out.TaxAmount, false},
		{"tax_rate", w.TaxRate, &out.TaxRate, true},
		{"withholding_amount", w.WithholdingAmount, &out.WithholdingAmount, false},
		{"withholding_rate", w.WithholdingRate, &out.WithholdingRate, true},
		{"subtotal_amount", w.SubtotalAmount, &out.SubtotalAmount, false},
	} {
		if *f.dst, err = optionalAmount(f.name, f.raw, f.pct); err != nil {
			return entity.ExtractionResult{}, err
		}
	}
	// IRPF is subtracted by the validator; a signed figure would flip it.
	if out.WithholdingAmount != nil {
		abs := out.WithholdingAmount.Abs()
		out.WithholdingAmount = &abs
	}

	for i, l := range w.Lines {
		line, err := l.toEntity(i + 1)
		if err != nil {
			return entity.ExtractionResult{}, err
		}
		out.Lines = append(out.Lines, line)
	}
	return out, nil
}

func (l wireLine) toEntity(pos int) (entity.ExtractionLine, error) {
	out := entity.ExtractionLine{LineNumber: pos, Description: strings.TrimSpace(l.Description)}
	if l.LineNumber != nil && *l.LineNumber > 0 {
		out.LineNumber = *l.LineNumber
	}
	field := func(name string) string { return fmt.Sprintf("lines[%d].%s", pos, name) }

	var err error
	if out.Quantity, err = amountOr(field("quantity"), l.Quantity, decimal.NewFromInt(1)); err != nil {
		return out, err
	}
	if out.UnitPrice, err = amountOr(field("unit_price"), l.UnitPrice, decimal.Zero); err != nil {
		return out, err
	}
	if out.LineTotal, err = amountOr(field("line_total"), l.LineTotal, out.Quantity.Mul(out.UnitPrice).Round(2)); err != nil {
		return out, err
	}
	if out.TaxRate, err = optionalAmount(field("tax_rate"), l.TaxRate, true); err != nil {
		return out, err
	}
	return out, nil
}

func requiredAmount(name string, raw flexAmount) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s is missing", name)
	}
	d, err := parse.ParseAmount(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func amountOr(name string, raw flexAmount, def decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return def, nil
	}
	return requiredAmount(name, raw)
}

func optionalAmount(name string, raw flexAmount, percent bool) (*decimal.Decimal, error) {
	s := string(raw)
	if percent {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	}
	if s == "" {
		return nil, nil
	}
	d, err := parse.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &d, nil
}
