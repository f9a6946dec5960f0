package pipeline

import (
	"log/slog"
	"sync"
)

// minFallbackSample is the number of documents before the fallback rate is judged.
const minFallbackSample = 20

// FallbackMeter counts how many documents needed the expensive tier. It only observes.
type FallbackMeter struct {
	mu        sync.Mutex
	processed int
	escalated int
	target    float64
	warned    bool
}

func NewFallbackMeter(target float64) *FallbackMeter {
	return &FallbackMeter{target: target}
}

type FallbackStats struct {
	Processed int
	Escalated int
	Rate      float64
	Target    float64
}

// Observe records one escalation decision and warns once each time the rate crosses the target.
func (m *FallbackMeter) Observe(escalated bool, logger *slog.Logger) {
	m.mu.Lock()
	m.processed++
	if escalated {
		m.escalated++
	}
	st := m.statsLocked()
	over := m.target > 0 && st.Processed >= minFallbackSample && st.Rate > m.target
	warn := over && !m.warned
	m.warned = over
	m.mu.Unlock()

	if warn {
		logger.Warn("pipeline.fallback_rate_above_target",
			"rate", st.Rate, "target", st.Target,
			"escalated", st.Escalated, "processed", st.Processed,
		)
	}
}

func (m *FallbackMeter) Stats() FallbackStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *FallbackMeter) statsLocked() FallbackStats {
	st := FallbackStats{Processed: m.processed, Escalated: m.escalated, Target: m.target}
	if m.processed > 0 {
		st.Rate = float64(m.escalated) / float64(m.processed)
	}
	return st
}
