package intercept

import (
	"context"
	"errors"
	"time"

	"github.com/kbukum/proxykit/config"
	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/observability"
	"github.com/kbukum/proxykit/resilience"
)

// Logging logs each call with its duration. Failures are logged at warn level.
func Logging(log *logger.Logger) Interceptor {
	log = log.WithComponent("proxy")
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			start := time.Now()
			results, err := next(ctx, inv)

			fields := logger.CallFields(inv.Identity, inv.Member)
			fields[logger.FieldDuration] = logger.Milliseconds(time.Since(start))
			l := log.WithContext(ctx)
			if err != nil {
				l.WithError(err).Warn("proxy call failed", fields)
			} else {
				l.Debug("proxy call ok", fields)
			}
			return results, err
		}
	}
}

// Metrics records invocation count, duration and in-flight calls.
func Metrics(m *observability.Metrics) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			start := time.Now()
			m.RecordInvocationStart(ctx)
			results, err := next(ctx, inv)

			status := "ok"
			if err != nil {
				status = "error"
			}
			m.RecordInvocation(ctx, inv.Identity, inv.Member, status, time.Since(start))
			return results, err
		}
	}
}

// Tracing wraps each call in a span named "{service}.{member}".
func Tracing(service string) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			ctx, span := observability.StartSpan(ctx, service+"."+inv.Member)
			defer span.End()

			observability.SetSpanAttribute(ctx, observability.AttrServiceName, service)
			observability.SetSpanAttribute(ctx, observability.AttrIdentity, inv.Identity)
			observability.SetSpanAttribute(ctx, observability.AttrMember, inv.Member)

			results, err := next(ctx, inv)
			if err != nil {
				observability.SetSpanError(ctx, err)
			}
			return results, err
		}
	}
}

// Retry re-runs the inner chain per cfg. The same target instance serves every attempt.
func Retry(cfg resilience.RetryConfig) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			return resilience.Retry(ctx, cfg, func() ([]any, error) {
				return next(ctx, inv)
			})
		}
	}
}

// CircuitBreaker rejects calls with resilience.ErrCircuitOpen while cb is open.
func CircuitBreaker(cb *resilience.CircuitBreaker) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			if !cb.Allow() {
				return nil, resilience.ErrCircuitOpen
			}
			results, err := next(ctx, inv)
			cb.Record(err)
			return results, err
		}
	}
}

// RateLimit rejects calls with RATE_LIMITED when rl has no token. With wait
// set it blocks for a token instead.
func RateLimit(rl *resilience.RateLimiter, wait bool) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			if wait {
				if err := rl.Wait(ctx); err != nil {
					return nil, apperrors.RateLimited(inv.Member).WithCause(err)
				}
			} else if !rl.Allow() {
				return nil, apperrors.RateLimited(inv.Member)
			}
			return next(ctx, inv)
		}
	}
}

// Bulkhead caps the calls in flight at b's slot count. A call that cannot get
// a slot under b's wait policy fails with RATE_LIMITED.
func Bulkhead(b *resilience.Bulkhead) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			var (
				results []any
				callErr error
				ran     bool
			)
			err := b.Execute(ctx, func() error {
				ran = true
				results, callErr = next(ctx, inv)
				return callErr
			})
			if !ran {
				return nil, apperrors.RateLimited(inv.Member).WithCause(err)
			}
			return results, callErr
		}
	}
}

// Timeout gives the inner chain a deadline. A deadline failure becomes TIMEOUT.
// Members only observe the deadline if they take a context.
func Timeout(d time.Duration) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			results, err := next(ctx, inv)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return results, apperrors.Timeout(inv.Member, err)
			}
			return results, err
		}
	}
}

// FromConfig builds the configured default stack: logging, then the
// concurrency cap, then timeout, then retry. The cap is shared by every
// proxy the stack is applied to.
func FromConfig(cfg config.InvocationConfig, log *logger.Logger) []Interceptor {
	var ics []Interceptor
	if cfg.LogCalls {
		ics = append(ics, Logging(log))
	}
	if cfg.MaxConcurrent > 0 {
		ics = append(ics, Bulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "invocation",
			MaxConcurrent: cfg.MaxConcurrent,
			Wait:          resilience.WaitBlock,
		})))
	}
	if cfg.Timeout > 0 {
		ics = append(ics, Timeout(cfg.Timeout))
	}
	if cfg.RetryAttempts > 1 {
		rc := resilience.DefaultRetryConfig()
		rc.MaxAttempts = cfg.RetryAttempts
		rc.InitialBackoff = cfg.RetryBackoff
		ics = append(ics, Retry(rc))
	}
	return ics
}
