package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when a component is not running
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeRequestTooLarge is used when the body exceeds the limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	// ErrCodeTokenInvalid is used when a device token cannot be stored
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeConflict is used when local and remote data diverged
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeJobRunning is used when a job is triggered while in flight
	ErrCodeJobRunning = "ERR_JOB_RUNNING"
)

// Sync error codes
const (
	// ErrCodeNetwork is used when the ERP server cannot be reached
	ErrCodeNetwork = "ERR_NETWORK"
	// ErrCodeTimeout is used when an ERP request exceeded its deadline
	ErrCodeTimeout = "ERR_TIMEOUT"
	// ErrCodeUpstream is used when the ERP server answered with a 5xx
	ErrCodeUpstream = "ERR_UPSTREAM"
	// ErrCodeRejected is used when the ERP server rejected a request (4xx)
	ErrCodeRejected = "ERR_REJECTED"
	// ErrCodeStorage is used when the local store failed
	ErrCodeStorage = "ERR_STORAGE"
	// ErrCodeQueueExhausted is used when an action used up its retries
	ErrCodeQueueExhausted = "ERR_QUEUE_EXHAUSTED"
	// ErrCodeCanceled is used when the request was aborted
	ErrCodeCanceled = "ERR_CANCELED"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeTokenInvalid:    http.StatusBadRequest,

	// Resource errors
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeJobRunning:   http.StatusConflict,

	// Upstream failures surface as gateway errors
	ErrCodeNetwork:        http.StatusServiceUnavailable,
	ErrCodeTimeout:        http.StatusGatewayTimeout,
	ErrCodeUpstream:       http.StatusBadGateway,
	ErrCodeRejected:       http.StatusUnprocessableEntity,
	ErrCodeStorage:        http.StatusInternalServerError,
	ErrCodeQueueExhausted: http.StatusUnprocessableEntity,
	ErrCodeCanceled:       http.StatusRequestTimeout,

	// Rate limiting -> 429 Too Many Requests
	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps the engine's error taxonomy to API codes.
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":       ErrCodeNotFound,
	"INVALID_INPUT":   ErrCodeInvalidInput,
	"INVALID_STATE":   ErrCodeInvalidState,
	"NETWORK_ERROR":   ErrCodeNetwork,
	"TIMEOUT":         ErrCodeTimeout,
	"SERVER_ERROR":    ErrCodeUpstream,
	"RATE_LIMITED":    ErrCodeRateLimited,
	"CLIENT_ERROR":    ErrCodeRejected,
	"CONFLICT":        ErrCodeConflict,
	"STORAGE_ERROR":   ErrCodeStorage,
	"QUEUE_EXHAUSTED": ErrCodeQueueExhausted,
	"CANCELED":        ErrCodeCanceled,
}

// NormalizeErrorCode converts a domain error code to the API format
// If the code is already in the API format or unknown, returns it as-is
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
