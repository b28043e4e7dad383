package errors

// ErrorCode represents a machine-readable error kind returned to callers.
type ErrorCode string

// Request rejection errors (raised before any external side effect)
const (
	// Caller lacks the capability required for the requested role or resource
	ErrCodePermissionDenied ErrorCode = "permission_denied"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"

	// Missing or malformed input
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"
)

// Resource/State Errors
const (
	ErrCodeAlreadyExists      ErrorCode = "already_exists"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeFailedPrecondition ErrorCode = "failed_precondition"
)

// Transient Errors
const (
	// A source system needed to compute onboarding state could not be reached
	ErrCodeUnavailable ErrorCode = "unavailable"
	ErrCodeRateLimited ErrorCode = "rate_limited"
)

// ErrCodeInternalError covers every unclassified failure.
const ErrCodeInternalError ErrorCode = "internal_error"

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient dependency issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUnavailable,
		ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeInvalidArgument:
		return 400
	case ErrCodeUnauthorized:
		return 401
	case ErrCodePermissionDenied:
		return 403
	case ErrCodeNotFound:
		return 404
	case ErrCodeAlreadyExists:
		return 409
	case ErrCodeFailedPrecondition:
		return 412
	case ErrCodeRateLimited:
		return 429
	case ErrCodeUnavailable:
		return 503
	default:
		return 500
	}
}
