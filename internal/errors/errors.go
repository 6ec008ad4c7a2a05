// Package errors provides structured error types for snowtrail.
// Every error carries a category, code, message and retryable flag so that
// callers can decide between failing fast and retrying on the next cycle.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by component.
type ErrorCategory string

const (
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryStore     ErrorCategory = "STORE"
	ErrCategoryTransport ErrorCategory = "TRANSPORT"
	ErrCategorySession   ErrorCategory = "SESSION"
	ErrCategoryArchive   ErrorCategory = "ARCHIVE"
	ErrCategoryEvent     ErrorCategory = "EVENT"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeEmptyEndpoint = "EMPTY_ENDPOINT"

	// Store codes
	CodeStoreFull    = "STORE_FULL"
	CodeStoreIO      = "STORE_IO"
	CodeStoreClosed  = "STORE_CLOSED"
	CodeStoreCorrupt = "STORE_CORRUPT"
	CodeEncodeFailed = "ENCODE_FAILED"
	CodeUnknownStore = "UNKNOWN_STORE"

	// Transport codes
	CodeRequestFailed = "REQUEST_FAILED"
	CodeBadStatus     = "BAD_STATUS"
	CodeTimeout       = "TIMEOUT"

	// Session codes
	CodePersistFailed = "PERSIST_FAILED"
	CodeLoadFailed    = "LOAD_FAILED"

	// Archive codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Event codes
	CodeInvalidEvent = "INVALID_EVENT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TrackerError is the structured error type used throughout the tracker.
type TrackerError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TrackerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TrackerError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TrackerError) Is(target error) bool {
	var t *TrackerError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TrackerError.
func New(category ErrorCategory, code, message string) *TrackerError {
	return &TrackerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TrackerError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TrackerError {
	return &TrackerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TrackerError) WithDetails(details map[string]interface{}) *TrackerError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var te *TrackerError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TrackerError.
func GetCategory(err error) ErrorCategory {
	var te *TrackerError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TrackerError.
func GetCode(err error) string {
	var te *TrackerError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// isRetryable reports whether the next emission cycle may succeed where
// this one failed.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeStoreIO:
		return true
	case category == ErrCategoryTransport && code == CodeRequestFailed:
		return true
	case category == ErrCategoryTransport && code == CodeBadStatus:
		return true
	case category == ErrCategoryTransport && code == CodeTimeout:
		return true
	case category == ErrCategoryArchive && code == CodeUploadFailed:
		return true
	case category == ErrCategoryArchive && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *TrackerError {
	return New(ErrCategoryConfig, code, message)
}

func NewStoreError(code, message string, cause error) *TrackerError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewTransportError(code, message string, cause error) *TrackerError {
	return Wrap(ErrCategoryTransport, code, message, cause)
}

func NewSessionError(code, message string, cause error) *TrackerError {
	return Wrap(ErrCategorySession, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *TrackerError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewEventError(message string) *TrackerError {
	return New(ErrCategoryEvent, CodeInvalidEvent, message)
}

func NewInternalError(message string, cause error) *TrackerError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
