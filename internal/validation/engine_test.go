package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

var fixedNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func invoice(total string) entity.ExtractionResult {
	return entity.ExtractionResult{
		InvoiceNumber: "F-2025-001",
		SupplierName:  "Suministros Levante SL",
		IssueDate:     "2025-03-01",
		TotalAmount:   dec(total),
		Currency:      "EUR",
	}
}

func opts() Options {
	return Options{TotalTolerance: DefaultTotalTolerance, Now: fixedNow}
}

func hasIssue(issues []string, fragment string) bool {
	for _, i := range issues {
		if strings.Contains(i, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_ConsistentInvoiceIsOK(t *testing.T) {
	e := invoice("121")
	e.TaxAmount, e.TaxRate, e.SubtotalAmount = ptr("21"), ptr("21"), ptr("100")

	res := Validate(e, opts())

	assert.Equal(t, constants.ValidationOK, res.Status)
	assert.True(t, res.IsOK())
	assert.Empty(t, res.Errors)
}

func TestValidate_ToleranceBoundaryExample(t *testing.T) {
	e := invoice("100")
	e.TaxAmount, e.TaxRate, e.SubtotalAmount = ptr("21"), ptr("21"), ptr("79")

	res := Validate(e, opts())
	assert.Equal(t, constants.ValidationOK, res.Status, res.Errors)

	e.TaxAmount = ptr("25")
	res = Validate(e, opts())
	assert.Equal(t, constants.ValidationDoubtful, res.Status)
	assert.True(t, hasIssue(res.Errors, "IVA declarado 25.00"), res.Errors)
	assert.True(t, hasIssue(res.Errors, "no cuadra"), res.Errors)
}

func TestValidate_TotalTolerance(t *testing.T) {
	tests := []struct {
		name     string
		subtotal string
		want     constants.ValidationStatus
	}{
		{name: "exact", subtotal: "100", want: constants.ValidationOK},
		{name: "at tolerance", subtotal: "99.50", want: constants.ValidationOK},
		{name: "just over tolerance", subtotal: "99.49", want: constants.ValidationDoubtful},
		{name: "over on the other side", subtotal: "100.51", want: constants.ValidationDoubtful},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := invoice("100")
			e.SubtotalAmount = ptr(tt.subtotal)

			res := Validate(e, opts())
			assert.Equal(t, tt.want, res.Status)
			if tt.want == constants.ValidationDoubtful {
				assert.True(t, hasIssue(res.Errors, "no cuadra"), res.Errors)
			}
		})
	}
}

func TestValidate_NegativeTotalAllowed(t *testing.T) {
	res := Validate(invoice("-50"), opts())

	assert.Equal(t, constants.ValidationOK, res.Status)
	assert.False(t, hasIssue(res.Errors, "cero"))
}

func TestValidate_ZeroTotalFlagged(t *testing.T) {
	res := Validate(invoice("0"), opts())

	assert.Equal(t, constants.ValidationDoubtful, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "cero")
}

func TestValidate_FutureIssueDate(t *testing.T) {
	tests := []struct {
		date    string
		flagged bool
	}{
		{date: "2025-03-10", flagged: false},
		{date: "2025-03-11", flagged: false}, // within the one day grace
		{date: "2025-03-12", flagged: true},
		{date: "15 DE ENERO DE 2030", flagged: true},
		{date: "not a date", flagged: false},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			e := invoice("10")
			e.IssueDate = tt.date

			res := Validate(e, opts())
			assert.Equal(t, tt.flagged, hasIssue(res.Errors, "futuro"), res.Errors)
		})
	}
}

func TestValidate_Withholding(t *testing.T) {
	// 100 base + 21 IVA - 15 IRPF
	e := invoice("106")
	e.TaxAmount, e.TaxRate = ptr("21"), ptr("21")
	e.WithholdingAmount, e.WithholdingRate = ptr("15"), ptr("15")

	res := Validate(e, opts())
	assert.Equal(t, constants.ValidationOK, res.Status, res.Errors)

	e.SubtotalAmount = ptr("90")
	res = Validate(e, opts())
	assert.Equal(t, constants.ValidationDoubtful, res.Status)
	assert.True(t, hasIssue(res.Errors, "no cuadra"))
	assert.True(t, hasIssue(res.Errors, "IVA"))
}

func TestValidate_CollectsAllIssuesInRuleOrder(t *testing.T) {
	e := invoice("0")
	e.IssueDate = "2031-01-01"
	e.SubtotalAmount = ptr("50")
	e.TaxAmount, e.TaxRate = ptr("3"), ptr("21")

	res := Validate(e, opts())

	require.Len(t, res.Errors, 4)
	assert.Contains(t, res.Errors[0], "cero")
	assert.Contains(t, res.Errors[1], "futuro")
	assert.Contains(t, res.Errors[2], "no cuadra")
	assert.Contains(t, res.Errors[3], "IVA")
}

func TestValidate_Deterministic(t *testing.T) {
	e := invoice("0")
	e.IssueDate = "2031-01-01"
	e.TaxAmount, e.TaxRate = ptr("9"), ptr("21")

	first := Validate(e, opts())
	second := Validate(e, opts())
	assert.Equal(t, first, second)
}

func TestExpectedTax_RoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "1.03", ExpectedTax(dec("10.25"), dec("10")).StringFixed(2))
	assert.Equal(t, "-1.03", ExpectedTax(dec("-10.25"), dec("10")).StringFixed(2))
	assert.Equal(t, "16.59", ExpectedTax(dec("79"), dec("21")).StringFixed(2))
}
