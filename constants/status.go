package constants

// StageState is the explicit lifecycle of one snapshot stage.
type StageState string

// Stable values (store these exact strings in DB).
const (
	StageNotStarted StageState = "NOT_STARTED"
	StageCompleted  StageState = "COMPLETED"
)

// ValidationStatus is the outcome of the validation engine.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "PENDING"  // validation stage not run yet
	ValidationOK       ValidationStatus = "OK"       // zero issues
	ValidationDoubtful ValidationStatus = "DOUBTFUL" // at least one issue collected
)

// ParseValidationStatus maps a stored value back to a status; unknown values read as pending.
func ParseValidationStatus(s string) ValidationStatus {
	switch ValidationStatus(s) {
	case ValidationOK, ValidationDoubtful:
		return ValidationStatus(s)
	default:
		return ValidationPending
	}
}
