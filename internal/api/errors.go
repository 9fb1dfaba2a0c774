package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/splitfeature/internal/provider"
)

// ErrorCode represents machine-readable error codes
type ErrorCode string

const (
	// General error codes
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeRequestTooLarge ErrorCode = "REQUEST_TOO_LARGE"

	// Request validation error codes
	ErrCodeInvalidJSON    ErrorCode = "INVALID_JSON"
	ErrCodeInvalidType    ErrorCode = "INVALID_TYPE"
	ErrCodeInvalidDefault ErrorCode = "INVALID_DEFAULT"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string    `json:"error"`                // HTTP status text
	Message   string    `json:"message"`              // Human-readable description
	Code      ErrorCode `json:"code"`                 // Machine-readable error code
	Detail    any       `json:"detail,omitempty"`     // Resolution detail carrying the served default
	RequestID string    `json:"request_id,omitempty"` // Request ID for debugging
}

// NewErrorResponse creates a new error response
func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

// WithDetail attaches the resolution detail to the response
func (e *ErrorResponse) WithDetail(detail any) *ErrorResponse {
	e.Detail = detail
	return e
}

// WithRequestID adds a request ID to the response
func (e *ErrorResponse) WithRequestID(requestID string) *ErrorResponse {
	e.RequestID = requestID
	return e
}

// writeErrorResponse writes a structured error response to the http response writer
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	// Add request ID from chi middleware if available
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errResp)
}

// BadRequestError creates a bad request error response
func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeErrorResponse(w, r, http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, code, message))
}

// UnauthorizedError creates an unauthorized error response
func UnauthorizedError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusUnauthorized, NewErrorResponse(http.StatusUnauthorized, ErrCodeUnauthorized, message))
}

// InternalError creates an internal server error response
func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusInternalServerError, NewErrorResponse(http.StatusInternalServerError, ErrCodeInternal, message))
}

// RequestTooLargeError creates a request entity too large error response
func RequestTooLargeError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, NewErrorResponse(http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, message))
}

// RateLimitedError creates a too many requests error response
func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, r, http.StatusTooManyRequests, NewErrorResponse(http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded"))
}

// statusForResolution maps a provider error code to an HTTP status.
func statusForResolution(code provider.ErrorCode) int {
	switch code {
	case provider.ErrorCodeFlagNotFound:
		return http.StatusNotFound
	case provider.ErrorCodeParseError:
		return http.StatusUnprocessableEntity
	case provider.ErrorCodeTargetingKeyMissing, provider.ErrorCodeInvalidContext:
		return http.StatusBadRequest
	case provider.ErrorCodeProviderNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ResolutionError writes a failed evaluation or track call. The provider error
// code becomes the response code; detail, when non-nil, carries the default served.
func ResolutionError(w http.ResponseWriter, r *http.Request, err error, detail any) {
	code := provider.ErrorCodeOf(err)
	msg := err.Error()
	var re *provider.ResolutionError
	if errors.As(err, &re) && re.Message != "" {
		msg = re.Message
	}
	status := statusForResolution(code)
	writeErrorResponse(w, r, status, NewErrorResponse(status, ErrorCode(code), msg).WithDetail(detail))
}
