package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Transport errors: signaling connection could not be opened or was lost
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"

	// Media errors: device acquisition failed (permission, no device, insecure context)
	ErrCodeMedia        ErrorCode = "MEDIA_ERROR"
	ErrCodeNoDevice     ErrorCode = "NO_MEDIA_DEVICE"
	ErrCodePermission   ErrorCode = "MEDIA_PERMISSION_DENIED"

	// Protocol errors: malformed or out-of-sequence signaling message
	ErrCodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// State conflict errors: operation requested in a state that forbids it
	ErrCodeStateConflict ErrorCode = "STATE_CONFLICT"

	// Not found errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"
	ErrCodeCallNotFound ErrorCode = "CALL_NOT_FOUND"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error with code and message
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Validation errors
func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

// Transport errors
func TransportError(message string, err error) *AppError {
	return Wrap(ErrCodeTransport, message, err)
}

// Media errors
func MediaError(message string, err error) *AppError {
	return Wrap(ErrCodeMedia, message, err)
}

func NoDeviceError(kind string) *AppError {
	return New(ErrCodeNoDevice, fmt.Sprintf("no %s capture device available", kind))
}

func PermissionDeniedError(kind string) *AppError {
	return New(ErrCodePermission, fmt.Sprintf("permission to access %s device denied", kind))
}

// Protocol errors
func ProtocolError(message string) *AppError {
	return New(ErrCodeProtocol, message)
}

// State conflict errors
func StateConflictError(message string) *AppError {
	return New(ErrCodeStateConflict, message)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func UserNotFoundError() *AppError {
	return New(ErrCodeUserNotFound, "User not found")
}

func CallNotFoundError() *AppError {
	return New(ErrCodeCallNotFound, "Call not found")
}

// Internal errors
func InternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// CodeOf extracts the error code from an error, or ErrCodeInternal for plain errors
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given application error code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsStateConflict reports whether err is a state-conflict rejection
func IsStateConflict(err error) bool {
	return IsCode(err, ErrCodeStateConflict)
}

// IsMediaError reports whether err originated in media device acquisition
func IsMediaError(err error) bool {
	return IsCode(err, ErrCodeMedia) || IsCode(err, ErrCodeNoDevice) || IsCode(err, ErrCodePermission)
}
