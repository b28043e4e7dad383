package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is a classified failure carrying the code and message the caller sees.
// The wrapped cause is kept for logging and errors.Is/As but never serialized.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	cause   error
}

// New creates a classified error with no underlying cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under code. The message is what the caller sees;
// the cause stays internal.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of e with details attached.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the caller may retry the same request.
func (e *Error) Retryable() bool {
	return e.Code.IsRetryable()
}

// CodeOf extracts the error code from err, defaulting to internal_error for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrCodeInternalError
}

// As extracts the classified error from err. Unclassified errors are
// reported as a generic internal error so internal text never leaks.
func As(err error) *Error {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(ErrCodeInternalError, "internal error", err)
}
