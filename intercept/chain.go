package intercept

import (
	"context"
	"reflect"
	"strings"
	"sync"
)

// Invocation describes one proxied call as it travels through the chain.
type Invocation struct {
	// Member is the name of the called member.
	Member string
	// Signature is the member's func type, without any receiver.
	Signature reflect.Type
	// Args are the call arguments, excluding a leading context.Context.
	// Interceptors may replace them before delegating.
	Args []any
	// Target is the instance resolved for this call. It is nil for empty sources.
	Target any
	// Identity is the definition the proxy fronts.
	Identity string
	// ProxyID identifies the proxy instance.
	ProxyID string

	mu    sync.Mutex
	attrs map[string]any
}

// SetAttribute stores a value for later interceptors.
func (inv *Invocation) SetAttribute(key string, value any) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.attrs == nil {
		inv.attrs = make(map[string]any)
	}
	inv.attrs[key] = value
}

// Attribute returns a stored value.
func (inv *Invocation) Attribute(key string) (any, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	v, ok := inv.attrs[key]
	return v, ok
}

// Handler services an invocation and returns the member's results, excluding
// a trailing error.
type Handler func(ctx context.Context, inv *Invocation) ([]any, error)

// Interceptor wraps a Handler with cross-cutting behavior.
type Interceptor func(next Handler) Handler

// Chain composes interceptors into one. The first is outermost.
//
// Chain(a, b, c)(h) is equivalent to a(b(c(h))).
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next Handler) Handler {
		for i := len(interceptors) - 1; i >= 0; i-- {
			if interceptors[i] != nil {
				next = interceptors[i](next)
			}
		}
		return next
	}
}

// Before runs fn before delegating. An error from fn is returned without delegating.
func Before(fn func(ctx context.Context, inv *Invocation) error) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			if err := fn(ctx, inv); err != nil {
				return nil, err
			}
			return next(ctx, inv)
		}
	}
}

// After runs fn once the inner chain returns, whatever the outcome.
func After(fn func(ctx context.Context, inv *Invocation, results []any, err error)) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			results, err := next(ctx, inv)
			fn(ctx, inv, results, err)
			return results, err
		}
	}
}

// AfterReturning runs fn after a successful call. fn may replace the results.
func AfterReturning(fn func(ctx context.Context, inv *Invocation, results []any) []any) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			results, err := next(ctx, inv)
			if err != nil {
				return results, err
			}
			return fn(ctx, inv, results), nil
		}
	}
}

// AfterError runs fn after a failed call. The error fn returns replaces the original.
func AfterError(fn func(ctx context.Context, inv *Invocation, err error) error) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			results, err := next(ctx, inv)
			if err != nil {
				err = fn(ctx, inv, err)
			}
			return results, err
		}
	}
}

// Around gives fn full control over delegation.
func Around(fn func(ctx context.Context, inv *Invocation, next Handler) ([]any, error)) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			return fn(ctx, inv, next)
		}
	}
}

// Pointcut selects invocations.
type Pointcut func(inv *Invocation) bool

// Match applies ic only to invocations selected by pc.
func Match(pc Pointcut, ic Interceptor) Interceptor {
	return func(next Handler) Handler {
		wrapped := ic(next)
		return func(ctx context.Context, inv *Invocation) ([]any, error) {
			if pc(inv) {
				return wrapped(ctx, inv)
			}
			return next(ctx, inv)
		}
	}
}

// NameIs selects members by exact name.
func NameIs(names ...string) Pointcut {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(inv *Invocation) bool {
		_, ok := set[inv.Member]
		return ok
	}
}

// NamePrefix selects members whose name starts with prefix.
func NamePrefix(prefix string) Pointcut {
	return func(inv *Invocation) bool { return strings.HasPrefix(inv.Member, prefix) }
}

// Not inverts a pointcut.
func Not(pc Pointcut) Pointcut {
	return func(inv *Invocation) bool { return !pc(inv) }
}
