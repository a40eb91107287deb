package proxy

import (
	"context"
	"fmt"

	apperrors "github.com/kbukum/proxykit/errors"
)

// Call invokes a member with one result and converts it to R.
func Call[R any](ctx context.Context, p *Proxy, member string, args ...any) (R, error) {
	var zero R
	results, err := p.Invoke(ctx, member, args...)
	if err != nil {
		return zero, err
	}
	return resultAs[R](member, results, 0)
}

// Call2 invokes a member with two results.
func Call2[R1, R2 any](ctx context.Context, p *Proxy, member string, args ...any) (R1, R2, error) {
	var (
		z1 R1
		z2 R2
	)
	results, err := p.Invoke(ctx, member, args...)
	if err != nil {
		return z1, z2, err
	}
	r1, err := resultAs[R1](member, results, 0)
	if err != nil {
		return z1, z2, err
	}
	r2, err := resultAs[R2](member, results, 1)
	if err != nil {
		return z1, z2, err
	}
	return r1, r2, nil
}

// Call0 invokes a member that has no results besides an error.
func Call0(ctx context.Context, p *Proxy, member string, args ...any) error {
	_, err := p.Invoke(ctx, member, args...)
	return err
}

func resultAs[R any](member string, results []any, i int) (R, error) {
	var zero R
	if i >= len(results) {
		return zero, apperrors.InvalidInput(member, fmt.Sprintf("no result %d", i))
	}
	if results[i] == nil {
		return zero, nil
	}
	r, ok := results[i].(R)
	if !ok {
		return zero, apperrors.InvalidInput(member, fmt.Sprintf("result %d is %T, not %T", i, results[i], zero))
	}
	return r, nil
}
