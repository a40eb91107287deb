package transform

import (
	"context"
	"fmt"

	apperrors "github.com/kbukum/proxykit/errors"
)

// ExceptionWrapping rewrites each member that does not declare category so
// that failures in category, recovered panics included, are re-raised as
// carrier.Wrap(cause). Failures the member declares, and failures outside
// category, pass unchanged. An invalid carrier fails with MISCONFIGURED when
// the stage runs.
func ExceptionWrapping(category Category, carrier Carrier) Stage {
	return func(next Sink) Sink {
		return func(m *MemberPlan) error {
			if !carrier.Valid() {
				return apperrors.Misconfigured(fmt.Sprintf("exception wrapping for %s has no carrier", m.Name))
			}
			if m.Body == nil {
				return apperrors.Misconfigured(fmt.Sprintf("member %s has no body", m.Name))
			}
			if !m.DeclaresCategory(category) {
				m.Body = wrapBody(m.Body, category, carrier, m.Declares)
			}
			return next(m)
		}
	}
}

func wrapBody(body Body, category Category, carrier Carrier, declared func(error) bool) Body {
	undeclared := func(err error) bool {
		return category.Matches(err) && !declared(err)
	}
	return func(ctx context.Context, target any, args []any) (results []any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			perr := newPanicError(r)
			if !undeclared(perr) {
				panic(r)
			}
			results, err = nil, carrier.Wrap(perr)
		}()

		results, err = body(ctx, target, args)
		if err != nil && undeclared(err) {
			return nil, carrier.Wrap(err)
		}
		return results, err
	}
}
