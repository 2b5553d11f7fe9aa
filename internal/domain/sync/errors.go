package sync

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind on the wire.
type Code string

const (
	CodeInvalidUserKey           Code = "INVALID_USER_KEY"
	CodeUserKeyNotFound          Code = "USER_KEY_NOT_FOUND"
	CodeUserKeyInactive          Code = "USER_KEY_INACTIVE"
	CodeInvalidFingerprintFormat Code = "INVALID_FINGERPRINT_FORMAT"
	CodeValidationError          Code = "VALIDATION_ERROR"
	CodeRequestTooLarge          Code = "REQUEST_TOO_LARGE"
	CodeDiffSessionNotFound      Code = "DIFF_SESSION_NOT_FOUND"
	CodeDiffSessionUserMismatch  Code = "DIFF_SESSION_USER_MISMATCH"
	CodeSyncInProgress           Code = "SYNC_IN_PROGRESS"
	CodeFingerprintLimitExceeded Code = "FINGERPRINT_LIMIT_EXCEEDED"
	CodeInternalError            Code = "INTERNAL_ERROR"
)

// statusByCode maps each error kind to its HTTP status.
var statusByCode = map[Code]int{
	CodeInvalidUserKey:           http.StatusBadRequest,
	CodeUserKeyNotFound:          http.StatusNotFound,
	CodeUserKeyInactive:          http.StatusForbidden,
	CodeInvalidFingerprintFormat: http.StatusBadRequest,
	CodeValidationError:          http.StatusBadRequest,
	CodeRequestTooLarge:          http.StatusBadRequest,
	CodeDiffSessionNotFound:      http.StatusNotFound,
	CodeDiffSessionUserMismatch:  http.StatusForbidden,
	CodeSyncInProgress:           http.StatusConflict,
	CodeFingerprintLimitExceeded: http.StatusForbidden,
	CodeInternalError:            http.StatusInternalServerError,
}

// Error is the typed error the engine surfaces to transport. It carries a
// wire code, an HTTP status, and optional structured details.
type Error struct {
	Code    Code           `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status associated with the error's code.
func (e *Error) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithDetail attaches one structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a typed error for the given code.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a typed error with a formatted message.
func NewErrorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a storage or infrastructure failure as INTERNAL_ERROR.
// The cause stays available for logging but is not serialized to clients.
func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternalError, Message: message, cause: cause}
}

// AsError unwraps err into a typed *Error when possible.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
