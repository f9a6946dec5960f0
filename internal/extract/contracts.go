// Package extract turns invoice OCR text into structured fields with a cheap or an
// expensive chat model.
package extract

// Tier selects the backing model. Callers express intent, never model names.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierExpensive Tier = "expensive"
)

// Request is one extraction call.
type Request struct {
	OCRText string
	// HighPrecision selects the expensive tier.
	HighPrecision bool
	// CacheKey identifies the source document (its content hash). Empty disables caching.
	CacheKey string
}

func (r Request) Tier() Tier {
	if r.HighPrecision {
		return TierExpensive
	}
	return TierCheap
}
