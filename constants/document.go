package constants

import "strings"

// Document types returned by the classifier.
const (
	DocumentTypeInvoice = "invoice"
	DocumentTypeFactura = "factura"
	DocumentTypeUnknown = "unknown"
)

const (
	DefaultCurrency = "EUR"
	DefaultLanguage = "es"

	// OriginPipeline tags invoices created by the processing pipeline.
	OriginPipeline = "PIPELINE"
)

// IsInvoiceType reports whether a classifier label names an invoice.
func IsInvoiceType(documentType string) bool {
	t := strings.TrimSpace(documentType)
	return strings.EqualFold(t, DocumentTypeInvoice) || strings.EqualFold(t, DocumentTypeFactura)
}
