// Package validation holds the deterministic arithmetic and date checks run over extracted invoices.
package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/parse"
)

// DefaultTotalTolerance is the accepted difference, in currency units, between declared and recomputed amounts.
const DefaultTotalTolerance = 0.5

const futureGrace = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

type Options struct {
	TotalTolerance float64
	// Now anchors the future-date rule; zero means time.Now().
	Now time.Time
}

// Validate applies every rule to e and collects the issues in rule order.
// It performs no I/O; with a fixed Options.Now the result depends only on its inputs.
func Validate(e entity.ExtractionResult, opts Options) entity.ValidationResult {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	tolerance := decimal.NewFromFloat(opts.TotalTolerance)

	var issues []string
	if msg, ok := checkZeroTotal(e); !ok {
		issues = append(issues, msg)
	}
	if msg, ok := checkIssueDate(e, now); !ok {
		issues = append(issues, msg)
	}
	if msg, ok := checkTotals(e, tolerance); !ok {
		issues = append(issues, msg)
	}
	if msg, ok := checkTax(e, tolerance); !ok {
		issues = append(issues, msg)
	}

	if len(issues) == 0 {
		return entity.ValidationResult{Status: constants.ValidationOK}
	}
	return entity.ValidationResult{Status: constants.ValidationDoubtful, Errors: issues}
}

// Negative totals are credit notes and pass.
func checkZeroTotal(e entity.ExtractionResult) (string, bool) {
	if e.TotalAmount.IsZero() {
		return "El importe total es cero", false
	}
	return "", true
}

// Unparsable dates resolve to now and therefore pass.
func checkIssueDate(e entity.ExtractionResult, now time.Time) (string, bool) {
	issued, _ := parse.ParseDate(e.IssueDate, now)
	if issued.After(now.Add(futureGrace)) {
		return fmt.Sprintf("La fecha de emisión %s está en el futuro", issued.Format("2006-01-02")), false
	}
	return "", true
}

func checkTotals(e entity.ExtractionResult, tolerance decimal.Decimal) (string, bool) {
	subtotal := e.Subtotal()
	tax := orZero(e.TaxAmount)
	withholding := orZero(e.WithholdingAmount)

	recomputed := subtotal.Add(tax).Sub(withholding)
	if recomputed.Sub(e.TotalAmount).Abs().GreaterThan(tolerance) {
		return fmt.Sprintf("El total declarado %s no cuadra con el recalculado %s (base %s + impuestos %s - retención %s)",
			e.TotalAmount.StringFixed(2), recomputed.StringFixed(2),
			subtotal.StringFixed(2), tax.StringFixed(2), withholding.StringFixed(2)), false
	}
	return "", true
}

// The rate normally applies to the subtotal. Some suppliers state it over the gross
// total instead, so a tax matching either base passes.
func checkTax(e entity.ExtractionResult, tolerance decimal.Decimal) (string, bool) {
	if e.TaxAmount == nil || e.TaxRate == nil {
		return "", true
	}
	declared := *e.TaxAmount
	rate := *e.TaxRate

	subtotal := e.Subtotal()
	expected := ExpectedTax(subtotal, rate)
	if expected.Sub(declared).Abs().LessThanOrEqual(tolerance) {
		return "", true
	}
	if ExpectedTax(e.TotalAmount, rate).Sub(declared).Abs().LessThanOrEqual(tolerance) {
		return "", true
	}
	return fmt.Sprintf("El IVA declarado %s no coincide con el esperado %s (%s%% sobre %s)",
		declared.StringFixed(2), expected.StringFixed(2), rate.String(), subtotal.StringFixed(2)), false
}

// ExpectedTax returns base × rate / 100 rounded to cents, halves away from zero.
func ExpectedTax(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
