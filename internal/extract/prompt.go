package extract

import (
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

// MaxPromptChars bounds the OCR text sent to either tier.
const MaxPromptChars = 24000

var baseRules = []string{
	"You extract supplier invoices (mostly Spanish \"facturas\"). Return ONLY one JSON object that matches the JSON Schema.",
	"Copy dates exactly as printed (e.g. 2024-01-15, 15/01/2024 or \"15 de enero de 2024\"); do not reformat them.",
	"Amounts: copy the printed figure; numbers or strings with the document's own separators are both fine.",
	"total_amount is the amount payable. tax_amount is the VAT (IVA) amount and tax_rate its percentage.",
	"withholding_amount / withholding_rate are the IRPF retention, as a positive figure.",
	"subtotal_amount is the taxable base (base imponible) before VAT.",
	"currency is an ISO 4217 code; use EUR when none is printed.",
	"If a field is not on the document, omit it. Never invent an invoice number.",
	"Set confidence between 0 and 1 to reflect how legible and complete the document was.",
}

var expensiveRules = []string{
	"Read the text carefully: OCR may have split numbers or merged columns. Reconcile subtotal, tax and total before answering.",
	"List every invoice line under lines with description, quantity, unit_price, tax_rate and line_total.",
	"Prefer the supplier's legal name and its NIF/CIF for supplier_tax_id.",
}

func buildSystemPrompt(tier Tier) string {
	parts := append([]string{}, baseRules...)
	if tier == TierExpensive {
		parts = append(parts, expensiveRules...)
	} else {
		parts = append(parts, "Include lines only when they are clearly legible.")
	}
	parts = append(parts, "JSON Schema:\n"+llm.MustJSON(invoiceJSONSchema()))
	return strings.Join(parts, "\n")
}

func buildUserPrompt(ocrText string) string {
	var b strings.Builder
	b.WriteString("OCR text:\n")
	if r := []rune(ocrText); len(r) > MaxPromptChars {
		b.WriteString(string(r[:MaxPromptChars]))
	} else {
		b.WriteString(ocrText)
	}
	return b.String()
}
