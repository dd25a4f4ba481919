package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application error with additional context
type AppError struct {
	Code    string // Error code for client
	Message string // Human-readable message
	Err     error  // Underlying error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the client-facing code
func (e *AppError) ErrorCode() string {
	return e.Code
}

// Error codes. Every failure surfaced by the ledger core carries one of these.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeConflict            = "CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeWalletNotUsable     = "WALLET_NOT_USABLE"
	CodeInvalidState        = "INVALID_STATE"
	CodeStorageFailure      = "STORAGE_FAILURE"

	// Used by the peripheral modules, never by the posting engine
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(message string) *AppError {
	return New(CodeInvalidArgument, message)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return New(CodeConflict, message)
}

// InvalidState creates an invalid state error
func InvalidState(message string) *AppError {
	return New(CodeInvalidState, message)
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return New(CodeForbidden, message)
}

// StorageFailure wraps a persistence error. Callers may retry the whole operation.
func StorageFailure(message string, err error) *AppError {
	return Wrap(err, CodeStorageFailure, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts the outermost AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or CodeInternal when the chain carries none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
