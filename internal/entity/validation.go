package entity

import "github.com/joseph-ayodele/invoice-pipeline/constants"

// ValidationResult is computed by the validation engine and checkpointed as flattened fields.
type ValidationResult struct {
	Status constants.ValidationStatus `json:"status"`
	Errors []string                   `json:"errors,omitempty"`
	// ExtractionHash identifies the extraction payload this result was computed from.
	ExtractionHash string `json:"extraction_hash,omitempty"`
}

func (v ValidationResult) IsOK() bool {
	return v.Status == constants.ValidationOK
}
