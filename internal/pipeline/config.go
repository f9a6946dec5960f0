package pipeline

import (
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/validation"
)

// Config holds the escalation policy.
type Config struct {
	// OCRConfidenceThreshold below which the expensive tier is used.
	OCRConfidenceThreshold float64
	TotalTolerance         float64
	// SchemaVersion tags cached extractions; a mismatch forces a fresh extraction.
	SchemaVersion   string
	FallbackEnabled bool
	// TargetFallbackRate is advisory: exceeding it only logs a warning.
	TargetFallbackRate float64
	Origin             string
}

func DefaultConfig() Config {
	return Config{
		OCRConfidenceThreshold: 0.85,
		TotalTolerance:         validation.DefaultTotalTolerance,
		SchemaVersion:          "invoice-v1",
		FallbackEnabled:        true,
		TargetFallbackRate:     0.15,
		Origin:                 constants.OriginPipeline,
	}
}

type Option func(*Pipeline)

// WithClock replaces time.Now, used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithFallbackMeter shares a meter across pipelines (e.g. one per worker).
func WithFallbackMeter(m *FallbackMeter) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.meter = m
		}
	}
}
