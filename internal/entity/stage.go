package entity

import (
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// Stage is one checkpointed pipeline step. Payload is meaningful only once the stage is Completed.
type Stage[T any] struct {
	State       constants.StageState `json:"state"`
	Payload     T                    `json:"payload"`
	CompletedAt time.Time            `json:"completed_at"`
}

func (s Stage[T]) Completed() bool {
	return s.State == constants.StageCompleted
}

// Complete stores payload unless the stage already holds one (first write wins).
// It reports whether the stage was written.
func (s *Stage[T]) Complete(payload T, at time.Time) bool {
	if s.Completed() {
		return false
	}
	s.set(payload, at)
	return true
}

// Overwrite stores payload regardless of the current state.
func (s *Stage[T]) Overwrite(payload T, at time.Time) {
	s.set(payload, at)
}

func (s *Stage[T]) set(payload T, at time.Time) {
	s.State = constants.StageCompleted
	s.Payload = payload
	s.CompletedAt = at.UTC()
}

// NotStarted returns an empty stage in the NotStarted state.
func NotStarted[T any]() Stage[T] {
	return Stage[T]{State: constants.StageNotStarted}
}
