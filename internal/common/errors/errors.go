// Package errors provides custom error types for the acpfactory application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound                 = "NOT_FOUND"
	ErrCodeBadRequest               = "BAD_REQUEST"
	ErrCodeConflict                 = "CONFLICT"
	ErrCodeInternalError            = "INTERNAL_ERROR"
	ErrCodeProtocolError            = "PROTOCOL_ERROR"
	ErrCodeUnknownPermissionRequest = "UNKNOWN_PERMISSION_REQUEST"
	ErrCodeUnsupportedCapability    = "UNSUPPORTED_CAPABILITY"
	ErrCodeFlushFailed              = "FLUSH_FAILED"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ProtocolError wraps a failure reported by the remote agent connection.
func ProtocolError(method string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeProtocolError,
		Message:    fmt.Sprintf("remote call '%s' failed", method),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// UnknownPermissionRequest is returned when responding to or cancelling a
// permission request id that is not pending.
func UnknownPermissionRequest(requestID string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownPermissionRequest,
		Message:    fmt.Sprintf("no pending permission request with id '%s'", requestID),
		HTTPStatus: http.StatusNotFound,
	}
}

// UnsupportedCapability is returned when an operation requires an agent
// capability that was not advertised during initialize.
func UnsupportedCapability(capability string) *AppError {
	return &AppError{
		Code:       ErrCodeUnsupportedCapability,
		Message:    fmt.Sprintf("agent does not support %s", capability),
		HTTPStatus: http.StatusBadRequest,
	}
}

// FlushFailed is returned when the flush extension call reports a failure.
func FlushFailed(message string) *AppError {
	if message == "" {
		message = "failed to persist session"
	}
	return &AppError{
		Code:       ErrCodeFlushFailed,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsUnknownPermissionRequest checks if the error refers to an absent
// pending permission request.
func IsUnknownPermissionRequest(err error) bool {
	return hasCode(err, ErrCodeUnknownPermissionRequest)
}

// IsUnsupportedCapability checks if the error is a capability error.
func IsUnsupportedCapability(err error) bool {
	return hasCode(err, ErrCodeUnsupportedCapability)
}

// IsFlushFailed checks if the error is a flush failure.
func IsFlushFailed(err error) bool {
	return hasCode(err, ErrCodeFlushFailed)
}

// IsProtocolError checks if the error originated at the protocol boundary.
func IsProtocolError(err error) bool {
	return hasCode(err, ErrCodeProtocolError)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
