package messagehub

import (
	"errors"
	"fmt"
)

// Error represents a message hub error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors carrying the same code, so errors.Is(err, ErrConflict)
// holds for any conflict regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Error codes for message hub operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeValidation indicates validation failed.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates database operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeDelivery indicates a bus operation failed.
	ErrCodeDelivery = "DELIVERY_ERROR"

	// ErrCodeConflict indicates an optimistic concurrency check failed.
	// The caller restarts its read-select-commit cycle.
	ErrCodeConflict = "CONCURRENCY_CONFLICT"

	// ErrCodeSequenceAllocation indicates the sequence allocator gave up after
	// repeated write conflicts. Retryable.
	ErrCodeSequenceAllocation = "SEQUENCE_ALLOCATION_ERROR"

	// ErrCodeNoMoreItems indicates a peek or take past the end of a cabinet.
	ErrCodeNoMoreItems = "NO_MORE_ITEMS"

	// ErrCodeDuplicateBundle indicates the recipient already has an outstanding bundle.
	ErrCodeDuplicateBundle = "DUPLICATE_BUNDLE"

	// ErrCodeProtocol indicates a malformed or uncorrelated cross-domain reply.
	ErrCodeProtocol = "PROTOCOL_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrInvalidConfiguration is returned when service configuration is invalid.
	ErrInvalidConfiguration = &Error{
		Code:    ErrCodeConfiguration,
		Message: "invalid configuration",
	}

	// ErrConflict is returned by conditional writes whose version check failed.
	ErrConflict = &Error{
		Code:    ErrCodeConflict,
		Message: "concurrent modification detected",
	}

	// ErrNoMoreItems is returned by a cabinet reader that has nothing left.
	// Callers must check CanPeek first; this is a programming error.
	ErrNoMoreItems = &Error{
		Code:    ErrCodeNoMoreItems,
		Message: "no more items in cabinet",
	}

	// ErrDuplicateBundle is returned when saving a second outstanding bundle
	// for one recipient.
	ErrDuplicateBundle = &Error{
		Code:    ErrCodeDuplicateBundle,
		Message: "recipient already has an outstanding bundle",
	}

	// ErrSequenceAllocation is returned when a sequence number could not be
	// allocated within the retry budget.
	ErrSequenceAllocation = &Error{
		Code:    ErrCodeSequenceAllocation,
		Message: "sequence number allocation failed",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// HasCode reports whether err is, or wraps, an *Error with the given code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &Error{Code: code})
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return HasCode(err, ErrCodeNoData)
}

// IsConflict checks if an error is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return HasCode(err, ErrCodeConflict)
}

// IsRetryable reports whether the operation that produced err can be retried
// from a fresh read: concurrency conflicts and sequence allocation failures.
func IsRetryable(err error) bool {
	return IsConflict(err) || HasCode(err, ErrCodeSequenceAllocation)
}
