package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned errors still compare equal
// to their predefined template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrDuplicate    = New("DUPLICATE", http.StatusConflict, "duplicate record")

	ErrHardwareUnavailable = New("HARDWARE_UNAVAILABLE", http.StatusServiceUnavailable, "beacon hardware unavailable")
	ErrScheduleBlocked     = New("SCHEDULE_BLOCKED", http.StatusForbidden, "scanning not permitted at this time")
	ErrRosterEmpty         = New("ROSTER_EMPTY", http.StatusUnprocessableEntity, "roster is empty")
	ErrSubmissionFailed    = New("SUBMISSION_FAILED", http.StatusBadGateway, "attendance submission failed")
	ErrOverrideConflict    = New("OVERRIDE_CONFLICT", http.StatusConflict, "attendance already submitted for this class today")
	ErrInvalidState        = New("INVALID_STATE", http.StatusConflict, "operation not allowed in current session state")
	ErrStatusLocked        = New("STATUS_LOCKED", http.StatusConflict, "student status is externally granted")
	ErrNoActiveSession     = New("NO_ACTIVE_SESSION", http.StatusNotFound, "no active scan session")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithReason returns a copy of err carrying a machine readable reason code.
func WithReason(err *Error, reason string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Reason = reason
	return &clone
}
