package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code, so wrapped and
// re-created errors compare equal with errors.Is.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes of the sync engine's failure taxonomy
const (
	CodeNetwork        = "NETWORK_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeServer         = "SERVER_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeClient         = "CLIENT_ERROR"
	CodeConflict       = "CONFLICT"
	CodeStorage        = "STORAGE_ERROR"
	CodeQueueExhausted = "QUEUE_EXHAUSTED"
	CodeCanceled       = "CANCELED"
)

// Common domain errors
var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState = NewDomainError("INVALID_STATE", "Operation not allowed in current state")

	// ErrNetwork covers missing connectivity, DNS failures and connection resets.
	ErrNetwork = NewDomainError(CodeNetwork, "Network unavailable")
	// ErrTimeout is raised when a request exceeds its deadline.
	ErrTimeout = NewDomainError(CodeTimeout, "Request timed out")
	// ErrServer is raised for 5xx responses.
	ErrServer = NewDomainError(CodeServer, "Server error")
	// ErrRateLimited is raised for 429 responses. It is retried like a
	// server error without being reported as one.
	ErrRateLimited = NewDomainError(CodeRateLimited, "Rate limited by server")
	// ErrClient is raised for non-retryable 4xx responses.
	ErrClient = NewDomainError(CodeClient, "Request rejected by server")
	// ErrConflict marks a local/remote divergence awaiting resolution.
	ErrConflict = NewDomainError(CodeConflict, "Local and remote data diverged")
	// ErrStorage is fatal: the local store failed and must not be masked.
	ErrStorage = NewDomainError(CodeStorage, "Local storage failure")
	// ErrQueueExhausted marks an action that used up its retry budget.
	ErrQueueExhausted = NewDomainError(CodeQueueExhausted, "Action exceeded max retries")
	// ErrCanceled marks a request aborted through its cancellation token.
	ErrCanceled = NewDomainError(CodeCanceled, "Request canceled")
)

// IsRetryable reports whether err belongs to the transient part of the
// taxonomy: network, timeout, server and rate limiting.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServer) || errors.Is(err, ErrRateLimited)
}

// IsFatal reports whether err is a local storage failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorage)
}

// StorageError wraps an underlying storage-engine error with the
// STORAGE_ERROR code while keeping the cause reachable via errors.Unwrap.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err; returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for every StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
