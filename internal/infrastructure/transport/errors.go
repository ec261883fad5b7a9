package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/erp/mobilesync/internal/domain/shared"
)

// Error is the classified failure of a transport call. Code is one of the
// shared taxonomy codes; Reason carries the finer server or local code
// (for example TOKEN_EXPIRED) when there is one.
type Error struct {
	Message        string
	Status         int
	Code           string
	Reason         string
	IsNetworkError bool
	IsTimeoutError bool
	Attempts       int
	Err            error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match transport failures against the shared sentinels,
// e.g. errors.Is(err, shared.ErrServer).
func (e *Error) Is(target error) bool {
	var de *shared.DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Code == e.Code
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Code {
	case shared.CodeNetwork, shared.CodeTimeout, shared.CodeServer, shared.CodeRateLimited:
		return true
	}
	return false
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if te, ok := AsError(err); ok {
		return te.Status
	}
	return 0
}

func newNetworkError(err error) *Error {
	return &Error{
		Message:        err.Error(),
		Code:           shared.CodeNetwork,
		IsNetworkError: true,
		Err:            err,
	}
}

func newTimeoutError(err error) *Error {
	return &Error{
		Message:        "request timed out",
		Code:           shared.CodeTimeout,
		IsNetworkError: true,
		IsTimeoutError: true,
		Err:            err,
	}
}

func newCanceledError(key string, err error) *Error {
	return &Error{
		Message: fmt.Sprintf("request %q canceled", key),
		Code:    shared.CodeCanceled,
		Err:     err,
	}
}

// newStatusError classifies a non-2xx response. 429 gets its own retryable
// code.
func newStatusError(status int, body []byte) *Error {
	msg, reason := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &Error{Message: msg, Status: status, Reason: reason}
	switch {
	case status == http.StatusTooManyRequests:
		e.Code = shared.CodeRateLimited
		if e.Reason == "" {
			e.Reason = shared.CodeRateLimited
		}
	case status >= 500:
		e.Code = shared.CodeServer
	default:
		e.Code = shared.CodeClient
	}
	return e
}

// NewClientError builds a locally raised ClientError.
func NewClientError(status int, reason, message string) *Error {
	return &Error{Message: message, Status: status, Code: shared.CodeClient, Reason: reason}
}
