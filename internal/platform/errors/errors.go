// Package errors provides the typed application errors shared by the
// repository, service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	ErrCodeNotFound            Code = "NOT_FOUND"
	ErrCodeInvalidState        Code = "INVALID_STATE"
	ErrCodeValidation          Code = "VALIDATION"
	ErrCodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	ErrCodeForbidden           Code = "FORBIDDEN"
	ErrCodeInternal            Code = "INTERNAL"
)

// HTTPStatus maps the code to the status written by the HTTP handler.
func (c Code) HTTPStatus() int {
	switch c {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConcurrencyConflict:
		return http.StatusPreconditionFailed
	case ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the code to a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeInvalidState:
		return codes.FailedPrecondition
	case ErrCodeValidation:
		return codes.InvalidArgument
	case ErrCodeConcurrencyConflict:
		return codes.Aborted
	case ErrCodeForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// AppError is an error carrying a Code and, for validation failures, the
// offending field.
type AppError struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// New creates an AppError with the given code and message.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. Wrapping an AppError keeps the
// inner code when the outer one is ErrCodeInternal so that storage helpers can
// wrap blindly without hiding a not-found or conflict.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	var inner *AppError
	if code == ErrCodeInternal && stderrors.As(err, &inner) {
		code = inner.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a malformed field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Field: field, Message: message}
}

// InvalidState reports an operation forbidden by the current state.
func InvalidState(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Finalized reports an attempted transition on a terminal workflow.
func Finalized(workflowID, status string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf("workflow %s already finalized (status: %s)", workflowID, status),
	}
}

// Conflict reports a failed optimistic-concurrency check.
func Conflict(resource, id string) *AppError {
	return &AppError{
		Code:    ErrCodeConcurrencyConflict,
		Message: fmt.Sprintf("%s %q was modified concurrently", resource, id),
	}
}

// Forbidden reports a caller that may not perform the operation.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// UserMessage renders err for an end user.
func UserMessage(err error) string {
	switch CodeOf(err) {
	case ErrCodeConcurrencyConflict:
		return "the record was changed by someone else, please retry"
	case ErrCodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
