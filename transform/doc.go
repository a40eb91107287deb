// Package transform rewrites member bodies before a proxy is built.
//
// A Stage receives one MemberPlan and forwards a possibly rewritten plan to
// the next Sink, so stages compose by nesting sinks. The ExceptionWrapping
// stage makes every member re-raise undeclared failures as a configured
// carrier error with the original failure as its cause:
//
//	carrier, err := transform.NewCarrier(func(cause error) *ServiceError { return &ServiceError{Cause: cause} })
//	stage := transform.Filter(transform.SkipSynthetic("$"), transform.ExceptionWrapping(transform.AnyFailure, carrier))
package transform
