// Package intercept defines the interceptor chain that wraps every proxied call.
//
// An Interceptor wraps the next Handler. Chain(a, b, c)(terminal) runs a, b
// and c in that order on the way in and in reverse order on the way out.
// Any interceptor may short-circuit by returning without calling next, or
// rewrite inv.Args before delegating.
//
//	chain := intercept.Chain(
//	    intercept.Logging(log),
//	    intercept.Match(intercept.NamePrefix("Get"), intercept.Retry(cfg)),
//	)
package intercept
