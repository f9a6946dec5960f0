// Package export renders persisted invoices as spreadsheets.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

const (
	SheetInvoices = "Invoices"
	SheetLines    = "Lines"
)

// InvoiceLister is the read side of invoice persistence.
type InvoiceLister interface {
	List(ctx context.Context, filter repository.InvoiceFilter) ([]*entity.Invoice, error)
}

// Service produces XLSX bytes for exports.
type Service struct {
	invoices InvoiceLister
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(invoices InvoiceLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, logger: logger, now: time.Now}
}

var invoiceHeaders = []string{
	"Invoice Number",
	"Supplier",
	"Supplier Tax ID",
	"Issue Date",
	"Due Date",
	"Received",
	"Subtotal",
	"Tax Rate %",
	"Tax",
	"Withholding",
	"Total",
	"Currency",
	"Extraction Confidence",
	"Notes",
	"Source File",
}

var lineHeaders = []string{
	"Invoice Number",
	"Line",
	"Description",
	"Quantity",
	"Unit Price",
	"Tax Rate %",
	"Line Total",
}

// InvoicesXLSX returns a workbook with one row per invoice and a sheet of detail lines,
// filtered by issue date. If only from is provided the window ends today.
func (s *Service) InvoicesXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	filter := repository.InvoiceFilter{From: dateOnly(from), To: dateOnly(to)}
	if filter.From != nil && filter.To == nil {
		today := s.now()
		filter.To = dateOnly(&today)
	}

	invs, err := s.invoices.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// rename the default sheet so the workbook opens on invoices
	if err := f.SetSheetName("Sheet1", SheetInvoices); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetLines); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(SheetInvoices)
	f.SetActiveSheet(idx)

	writeRow(f, SheetInvoices, 1, toAny(invoiceHeaders))
	writeRow(f, SheetLines, 1, toAny(lineHeaders))

	row, lineRow := 2, 2
	for _, inv := range invs {
		writeRow(f, SheetInvoices, row, []any{
			inv.InvoiceNumber,
			inv.SupplierName,
			inv.SupplierTaxID,
			inv.IssueDate.Format("2006-01-02"),
			formatDate(inv.DueDate),
			inv.ReceivedDate.Format("2006-01-02"),
			amount(inv.Subtotal),
			optional(inv.TaxRate),
			optional(inv.TaxAmount),
			optional(inv.WithholdingAmount),
			amount(inv.Total),
			inv.Currency,
			confidence(inv.ExtractionConfidence),
			truncate(inv.Notes, 240),
			inv.SourceFilePath,
		})
		row++

		for _, l := range inv.Lines {
			writeRow(f, SheetLines, lineRow, []any{
				inv.InvoiceNumber,
				l.LineNumber,
				l.Description,
				amount(l.Quantity),
				amount(l.UnitPrice),
				optional(l.TaxRate),
				amount(l.LineTotal),
			})
			lineRow++
		}
	}

	_ = f.SetColWidth(SheetInvoices, "A", "A", 18) // number
	_ = f.SetColWidth(SheetInvoices, "B", "B", 32) // supplier
	_ = f.SetColWidth(SheetInvoices, "C", "F", 14)
	_ = f.SetColWidth(SheetInvoices, "G", "M", 12) // amounts
	_ = f.SetColWidth(SheetInvoices, "N", "N", 48) // notes
	_ = f.SetColWidth(SheetInvoices, "O", "O", 60) // path
	_ = f.SetColWidth(SheetLines, "C", "C", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(invs),
		"lines", lineRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Amounts are written as numbers so the sheet can sum them.
func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func optional(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return amount(*d)
}

func confidence(c *float64) any {
	if c == nil {
		return ""
	}
	return *c
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
