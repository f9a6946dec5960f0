package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate     = regexp.MustCompile(`\b(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|20\d{2}-\d{2}-\d{2})\b|\b\d{1,2} de [a-z]+ de \d{4}\b`)
	reCurr     = regexp.MustCompile(`\b(eur|usd|gbp)\b|[$£€]`)
	reAmount   = regexp.MustCompile(`\b\d{1,3}([.,]\d{3})*[.,]\d{2}\b`)
	reKeywords = regexp.MustCompile(`\b(factura|invoice|iva|vat|nif|cif|base imponible|total)\b`)
)

func hasDatePattern(s string) bool     { return reDate.MatchString(s) }
func hasCurrencyPattern(s string) bool { return reCurr.MatchString(s) }
func hasAmountPattern(s string) bool   { return reAmount.MatchString(s) }
func hasInvoiceKeywords(s string) bool { return reKeywords.MatchString(s) }

// heuristicConfidence scores decoded text by the invoice artifacts it contains.
// Empty text scores 0.
func heuristicConfidence(txt string) float64 {
	if strings.TrimSpace(txt) == "" {
		return 0
	}
	txtL := strings.ToLower(txt)
	score := 0.2 // base
	if hasDatePattern(txtL) {
		score += 0.2
	}
	if hasCurrencyPattern(txtL) {
		score += 0.15
	}
	if hasAmountPattern(txtL) {
		score += 0.15
	}
	if hasInvoiceKeywords(txtL) {
		score += 0.2
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	return clamp01(score)
}

// blendConfidence weights engine confidence higher when tesseract reported one.
func blendConfidence(engine, heuristic float64) float64 {
	if engine > 0 {
		return clamp01(0.7*engine + 0.3*heuristic)
	}
	return clamp01(heuristic)
}
