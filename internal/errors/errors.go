// Package errors provides structured error types for the booking pipeline.
// Every error carries a category, code, message, and retryable flag so that
// adapters can tell client validation failures from infrastructure failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the layer that produced them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCodec      ErrorCategory = "CODEC"
	ErrCategoryScratch    ErrorCategory = "SCRATCH"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMalformedBody = "MALFORMED_BODY"
	CodeMissingFields = "MISSING_FIELDS"
	CodeInvalidType   = "INVALID_TYPE"
	CodeInvalidFormat = "INVALID_FORMAT"

	// Storage codes
	CodeListFailed     = "LIST_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeWriteConflict  = "WRITE_CONFLICT"

	// Codec codes
	CodeCorruptPartition = "CORRUPT_PARTITION"
	CodeEncodeFailed     = "ENCODE_FAILED"

	// Scratch codes
	CodeScratchIO = "SCRATCH_IO"

	// Internal codes
	CodeContractViolation = "CONTRACT_VIOLATION"
	CodeUnexpected        = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsClientError reports whether the error was caused by the caller's input.
// Client errors are reported back and never retried.
func IsClientError(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// ClientMessage returns the message to show to the caller for a client
// error, without the category prefix. For other errors it returns err.Error().
func ClientMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Category == ErrCategoryValidation {
		return pe.Message
	}
	return err.Error()
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Storage failures
// are transient from the caller's point of view and should be redelivered;
// corrupt partitions and contract violations need an operator.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code != CodeDeleteFailed:
		return true
	case category == ErrCategoryScratch:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryValidation, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCodecError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryCodec, code, message, cause)
}

func NewScratchError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryScratch, CodeScratchIO, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

func NewContractViolation(message string) *PipelineError {
	return New(ErrCategoryInternal, CodeContractViolation, message)
}
