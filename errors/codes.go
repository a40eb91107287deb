package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Resolution errors
const (
	// ErrCodeConstructionFailed indicates the instance factory could not produce an instance.
	ErrCodeConstructionFailed ErrorCode = "CONSTRUCTION_FAILED"
	// ErrCodePoolExhausted indicates no pooled instance became free within the wait policy.
	ErrCodePoolExhausted ErrorCode = "POOL_EXHAUSTED"
	// ErrCodeNoTarget indicates a target source had nothing to hand out.
	ErrCodeNoTarget ErrorCode = "NO_TARGET"
	// ErrCodeClosed indicates the target source was already torn down.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Invocation errors
const (
	// ErrCodeUndeclaredFailure indicates a failure the member contract did not declare.
	ErrCodeUndeclaredFailure ErrorCode = "UNDECLARED_FAILURE"
	// ErrCodeInvalidInput indicates arguments do not match the member signature.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeTimeout indicates the invocation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates the invocation was rejected by a rate limiter.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// Setup errors
const (
	// ErrCodeMisconfigured indicates an invalid proxy, selector or carrier setup.
	ErrCodeMisconfigured ErrorCode = "MISCONFIGURED"
	// ErrCodeNotFound indicates an unknown definition or member.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodePoolExhausted: true,
	ErrCodeTimeout:       true,
	ErrCodeRateLimited:   true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
