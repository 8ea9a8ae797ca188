// Package errors provides the error codes shared by the store, the sync
// engine and the local API.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to the UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrConflict ErrorCode = "CONFLICT"

	// Local storage errors. Fatal to the current operation, never retried by the engine.
	ErrDatabase    ErrorCode = "DATABASE_ERROR"
	ErrMigration   ErrorCode = "MIGRATION_FAILED"
	ErrBlobAbsent  ErrorCode = "BLOB_NOT_FOUND"
	ErrBlobCorrupt ErrorCode = "BLOB_CORRUPTED"

	// Sync errors
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline       ErrorCode = "SYNC_OFFLINE"
	ErrSyncRemote        ErrorCode = "SYNC_REMOTE_ERROR"
	ErrSyncExhausted     ErrorCode = "SYNC_RETRIES_EXHAUSTED"
	ErrSyncNoHandler     ErrorCode = "SYNC_NO_HANDLER"
	ErrSyncTimeout       ErrorCode = "SYNC_TIMEOUT"
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsLocal reports whether err is a local storage failure. These are fatal
// to the current operation and never retried by the sync engine.
func IsLocal(err error) bool {
	return Is(err, ErrDatabase) || Is(err, ErrMigration) || Is(err, ErrBlobAbsent) || Is(err, ErrBlobCorrupt)
}

// IsRetryable reports whether err is a transient remote failure.
// Network failures and non-2xx responses are wrapped as ErrSyncRemote or
// ErrSyncTimeout by the handlers; local storage errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsLocal(err) {
		return false
	}
	return Is(err, ErrSyncRemote) || Is(err, ErrSyncTimeout)
}
