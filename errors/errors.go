package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// AppError is the unified proxykit error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the caller may retry the operation.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// Code returns a bare AppError for the code, usable as an errors.Is target.
//
//	if errors.Is(err, apperrors.Code(apperrors.ErrCodePoolExhausted)) { ... }
func Code(code ErrorCode) *AppError {
	return &AppError{Code: code}
}

// HasCode reports whether err, or any error it wraps, is an AppError with code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	for ok {
		if appErr.Code == code {
			return true
		}
		appErr, ok = AsAppError(appErr.Cause)
	}
	return false
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

// --- Common Error Constructors ---

// ConstructionFailed creates an AppError for a factory that could not produce an instance.
func ConstructionFailed(identity string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeConstructionFailed, Message: fmt.Sprintf("could not create instance for %q", identity),
		Details: map[string]any{"identity": identity}, Cause: cause,
	}
}

// PoolExhausted creates an AppError for a pool that had no free instance within the wait policy.
func PoolExhausted(identity string, maxSize int, waited time.Duration) *AppError {
	return &AppError{
		Code: ErrCodePoolExhausted, Message: fmt.Sprintf("pool for %q exhausted (max %d)", identity, maxSize),
		Retryable: true,
		Details:   map[string]any{"identity": identity, "max_size": maxSize, "waited": waited.String()},
	}
}

// Closed creates an AppError for a target source used after teardown.
func Closed(identity string) *AppError {
	return &AppError{
		Code: ErrCodeClosed, Message: fmt.Sprintf("target source for %q is closed", identity),
		Details: map[string]any{"identity": identity},
	}
}

// NoTarget creates an AppError for a source that has no instance to hand out.
func NoTarget(identity, reason string) *AppError {
	return &AppError{
		Code: ErrCodeNoTarget, Message: reason,
		Details: map[string]any{"identity": identity},
	}
}

// UndeclaredFailure creates an AppError wrapping a failure the member did not declare.
func UndeclaredFailure(cause error) *AppError {
	return &AppError{
		Code: ErrCodeUndeclaredFailure, Message: "undeclared failure during delegation",
		Cause: cause,
	}
}

// InvalidInput creates an AppError for arguments that do not fit a member signature.
func InvalidInput(member, reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid input for %s: %s", member, reason),
		Details: map[string]any{"member": member},
	}
}

// Misconfigured creates an AppError for setup that can never produce a working proxy.
func Misconfigured(reason string) *AppError {
	return &AppError{Code: ErrCodeMisconfigured, Message: reason}
}

// NotFound creates an AppError for an unknown resource.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id),
		Details: details,
	}
}

// Timeout creates an AppError for an invocation that exceeded its deadline.
func Timeout(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		Retryable: true, Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// RateLimited creates an AppError for an invocation rejected by a rate limiter.
func RateLimited(operation string) *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: fmt.Sprintf("%s rate limited", operation),
		Retryable: true, Details: map[string]any{"operation": operation},
	}
}
