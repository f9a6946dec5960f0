package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInvoice_AddLineKeepsNumbersUnique(t *testing.T) {
	inv := NewInvoice("F-1", "ACME", time.Now(), time.Now(), decimal.Zero, decimal.Zero, "EUR", "PIPELINE", "/in/a.pdf")
	one := decimal.NewFromInt(1)

	tests := []struct {
		requested int
		want      int
	}{
		{2, 2},  // kept
		{0, 3},  // missing
		{2, 4},  // taken
		{1, 1},  // free gap
		{-5, 5}, // invalid
		{9, 9},  // jump kept
		{1, 10}, // taken again
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inv.AddLine(tt.requested, "x", one, one, one, nil), "requested %d", tt.requested)
	}

	seen := map[int]bool{}
	for _, l := range inv.Lines {
		assert.False(t, seen[l.LineNumber], "line %d repeated", l.LineNumber)
		seen[l.LineNumber] = true
		assert.Equal(t, inv.ID, l.InvoiceID)
	}
}
