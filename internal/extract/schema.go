package extract

// invoiceJSONSchema is what the model must return. Amounts may come back as numbers or
// as locale-formatted strings; both are normalized after validation.
func invoiceJSONSchema() map[string]any {
	amount := map[string]any{"type": []string{"number", "string", "null"}}
	str := map[string]any{"type": []string{"string", "null"}}

	line := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"line_number": map[string]any{"type": []string{"integer", "null"}},
			"description": str,
			"quantity":    amount,
			"unit_price":  amount,
			"tax_rate":    amount,
			"line_total":  amount,
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invoice_number":     map[string]any{"type": "string", "minLength": 1},
			"supplier_name":      str,
			"supplier_tax_id":    str,
			"issue_date":         str,
			"due_date":           str,
			"total_amount":       map[string]any{"type": []string{"number", "string"}},
			"tax_amount":         amount,
			"tax_rate":           amount,
			"withholding_amount": amount,
			"withholding_rate":   amount,
			"subtotal_amount":    amount,
			"currency":           str,
			"lines":              map[string]any{"type": []string{"array", "null"}, "items": line},
			"confidence":         map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1},
		},
		"required": []string{"invoice_number", "total_amount"},
	}
}
