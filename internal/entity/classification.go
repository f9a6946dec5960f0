package entity

import "github.com/joseph-ayodele/invoice-pipeline/constants"

// ClassificationResult is the cheap-model label for a document.
type ClassificationResult struct {
	DocumentType  string  `json:"document_type"`
	Language      string  `json:"language"` // ISO-639-1
	SupplierGuess string  `json:"supplier_guess,omitempty"`
	ProviderID    string  `json:"provider_id,omitempty"`
	Confidence    float64 `json:"confidence"`
	RawPayload    string  `json:"raw_payload,omitempty"`
	// Degraded is set when the model answer could not be parsed.
	Degraded bool `json:"degraded,omitempty"`
}

// UnknownClassification is the default label, optionally carrying the raw model answer.
func UnknownClassification(raw string) ClassificationResult {
	return ClassificationResult{
		DocumentType: constants.DocumentTypeUnknown,
		RawPayload:   raw,
	}
}

func (c ClassificationResult) IsInvoice() bool {
	return constants.IsInvoiceType(c.DocumentType)
}
