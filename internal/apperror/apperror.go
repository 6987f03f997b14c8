// Package apperror defines the error taxonomy shared by the ledger, the
// gateway and the HTTP layer.
//
// Every error that crosses a layer boundary wraps one of the sentinels below,
// so callers branch with errors.Is and never inspect messages:
//
//	ErrUnauthorized        → no resolvable principal (sign in)
//	ErrForbidden           → resolved, but not the operator
//	ErrInsufficientCredit  → balance could not cover the debit (buy credits)
//	ErrStorageUnavailable  → ledger store unreachable or timed out (try later)
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type AppError struct {
	Err     error  // sentinel this error classifies as
	Message string // human-readable error message
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying driver/library error, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches either
// apperror.ErrStorageUnavailable or e.g. context.DeadlineExceeded.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means no authenticated principal could be resolved.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// InsufficientCredit reports a debit that was refused because the balance
// could not cover it. Nothing was mutated.
func InsufficientCredit(userID string) *AppError {
	return &AppError{
		Err:     ErrInsufficientCredit,
		Message: fmt.Sprintf("insufficient credit for user %s", userID),
	}
}

// StorageUnavailable wraps a failed storage round-trip. op names the ledger
// operation ("debit", "grant", ...).
func StorageUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorageUnavailable,
		Message: fmt.Sprintf("storage unavailable during %s", op),
		Cause:   cause,
	}
}
