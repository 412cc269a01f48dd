package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the dispatch loop itself,
// as opposed to a fault inside entity code.
//
// Runtime errors include:
//   - Invalid configuration: rejected by New before any run starts
//   - Invariant violation: the single-writer discipline was broken
//   - Run state: Run called twice concurrently, Inject with no active run
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity when Variant is set or the
	// error concerns a specific identity.
	EntityID ID

	// Variant is the affected entity's variant, if known.
	Variant Variant

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidConfig indicates a rejected engine option.
	ErrCodeInvalidConfig RuntimeErrorCode = "INVALID_CONFIG"

	// ErrCodeInvariantViolation indicates registry, index or tracker state
	// that the loop should never produce.
	ErrCodeInvariantViolation RuntimeErrorCode = "INVARIANT_VIOLATION"

	// ErrCodeAlreadyRunning indicates Run was called while a run is active.
	ErrCodeAlreadyRunning RuntimeErrorCode = "ALREADY_RUNNING"

	// ErrCodeNotRunning indicates Inject was called with no active run.
	ErrCodeNotRunning RuntimeErrorCode = "NOT_RUNNING"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("%s: %s (entity=%d, variant=%s)", e.Code, e.Message, e.EntityID, e.Variant)
	}
	if e.Code == ErrCodeInvariantViolation {
		return fmt.Sprintf("%s: %s (entity=%d)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HandlerError reports a fault raised by entity code: a handler that
// returned an error or panicked, a malformed result, or a panicking
// Matches. It is fatal to the run.
type HandlerError struct {
	ID           ID
	Variant      Variant
	EventVariant Variant
	Event        Event
	Cause        error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler fault: entity %d (%s) on event %s: %v",
		e.ID, e.Variant, e.EventVariant, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// ErrInvalidResult is the cause reported when a handler returns a result
// the loop cannot apply.
var ErrInvalidResult = errors.New("invalid handler result")

// IsHandlerError returns true if err is or wraps a HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}

// IsConfigError returns true if err is an invalid configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeInvalidConfig)
}

// IsInvariantViolation returns true if err reports a broken loop invariant.
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariantViolation)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// newConfigError creates a RuntimeError for a rejected option value.
func newConfigError(option string, value any, reason string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidConfig,
		Message: fmt.Sprintf("%s: %s", option, reason),
		Details: map[string]string{
			"option": option,
			"value":  fmt.Sprintf("%v", value),
		},
	}
}
