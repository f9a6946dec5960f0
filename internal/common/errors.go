package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
)

// Pipeline error taxonomy. The first three are fatal for the document being processed.
var (
	ErrDocumentUnreadable = errors.New("document unreadable")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrDuplicateInvoice   = errors.New("duplicate invoice")
)

// Error codes carried by AppError.
const (
	CodeDocumentUnreadable = "DOCUMENT_UNREADABLE"
	CodeExtractionFailed   = "EXTRACTION_FAILED"
	CodeDuplicateInvoice   = "DUPLICATE_INVOICE"
	CodeConfig             = "CONFIG_ERROR"
)

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Unreadable wraps err as a DocumentUnreadable failure for path.
func Unreadable(path string, err error) error {
	return NewAppError(CodeDocumentUnreadable, path, errors.Join(ErrDocumentUnreadable, err))
}

// ExtractionFailed wraps err as an ExtractionFailed failure.
func ExtractionFailed(message string, err error) error {
	return NewAppError(CodeExtractionFailed, message, errors.Join(ErrExtractionFailed, err))
}

// DuplicateInvoice reports an existing invoice with the same business number.
func DuplicateInvoice(number string) error {
	return NewAppError(CodeDuplicateInvoice, "invoice number "+number+" already exists", ErrDuplicateInvoice)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
