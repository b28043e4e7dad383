package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// DetailRetryAfter is the details key carrying a retry delay in seconds.
// When present it is mirrored into the Retry-After header.
const DetailRetryAfter = "retryAfterSeconds"

// ErrorResponse is the error envelope returned to API callers.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the code, message, and optional field details.
type ErrorDetail struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse builds the envelope for code.
func NewErrorResponse(code ErrorCode, message string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the envelope with the status mapped from its code.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if e.Error.Retryable {
		if secs, ok := retryAfter(e.Error.Details); ok {
			h.Set("Retry-After", strconv.Itoa(secs))
		}
	}
	w.WriteHeader(e.Error.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e)
}

// WriteError writes an error envelope in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}

// WriteSimpleError writes an error with no details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}

// WriteErrorWithDetail writes an error with a single detail field.
func WriteErrorWithDetail(w http.ResponseWriter, code ErrorCode, message string, key string, value interface{}) {
	WriteError(w, code, message, map[string]interface{}{key: value})
}

// WriteErr writes a classified error. Anything that is not an *Error is
// written as internal_error with a generic message; the cause never reaches
// the body.
func WriteErr(w http.ResponseWriter, err error) {
	apiErr := As(err)
	WriteError(w, apiErr.Code, apiErr.Message, apiErr.Details)
}

func retryAfter(details map[string]interface{}) (int, bool) {
	switch v := details[DetailRetryAfter].(type) {
	case int:
		return v, v > 0
	case int64:
		return int(v), v > 0
	case float64:
		return int(v), v > 0
	}
	return 0, false
}
