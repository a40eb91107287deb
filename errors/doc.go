// Package errors provides the structured error type shared by proxykit
// packages.
//
// Every failure raised by the runtime itself (construction, pool exhaustion,
// misconfiguration, undeclared-failure wrapping) is an *AppError carrying a
// machine-readable code, a retryable flag and the underlying cause. The
// standard errors.Is / errors.As functions see through AppError via Unwrap, so
// a factory's own error is still matchable after it has been wrapped.
package errors
