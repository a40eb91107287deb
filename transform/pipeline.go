package transform

import (
	"context"
	"fmt"
	"go/token"
	"reflect"
	"strings"

	apperrors "github.com/kbukum/proxykit/errors"
)

// Body executes a member against a resolved target.
// Results exclude a trailing error.
type Body func(ctx context.Context, target any, args []any) ([]any, error)

// MemberPlan is the structural representation of one proxied member.
type MemberPlan struct {
	// Name is the member name.
	Name string
	// Signature is the member func type, without a receiver.
	Signature reflect.Type
	// Declared lists the failure categories callers of this member expect.
	Declared []Category
	// Body is the member implementation. Stages may replace it.
	Body Body
}

// Declares reports whether any declared category matches err.
func (m *MemberPlan) Declares(err error) bool {
	for _, c := range m.Declared {
		if c.Matches(err) {
			return true
		}
	}
	return false
}

// DeclaresCategory reports whether c itself is declared. Categories that only
// share a name are distinct.
func (m *MemberPlan) DeclaresCategory(c Category) bool {
	for _, d := range m.Declared {
		if d.Same(c) {
			return true
		}
	}
	return false
}

// Sink receives a member plan.
type Sink func(m *MemberPlan) error

// Stage rewrites a plan and forwards it to next.
type Stage func(next Sink) Sink

// Pipeline composes stages into one. The first stage is outermost and sees
// each plan before the others.
func Pipeline(stages ...Stage) Stage {
	return func(next Sink) Sink {
		for i := len(stages) - 1; i >= 0; i-- {
			if stages[i] != nil {
				next = stages[i](next)
			}
		}
		return next
	}
}

// Predicate selects member plans.
type Predicate func(m *MemberPlan) bool

// Filter applies stage only to plans selected by pred. Other plans go straight to next.
func Filter(pred Predicate, stage Stage) Stage {
	return func(next Sink) Sink {
		staged := stage(next)
		return func(m *MemberPlan) error {
			if pred(m) {
				return staged(m)
			}
			return next(m)
		}
	}
}

// SkipSynthetic selects members whose name does not contain marker.
func SkipSynthetic(marker string) Predicate {
	return func(m *MemberPlan) bool { return !strings.Contains(m.Name, marker) }
}

// ExportedOnly selects exported members.
func ExportedOnly(m *MemberPlan) bool { return token.IsExported(m.Name) }

// Apply runs plans through stage and returns the plans in their original
// order. Every plan must reach the end of the pipeline exactly once.
func Apply(plans []*MemberPlan, stage Stage) ([]*MemberPlan, error) {
	if stage == nil {
		return plans, nil
	}
	out := make(map[string]*MemberPlan, len(plans))
	sink := stage(func(m *MemberPlan) error {
		if _, dup := out[m.Name]; dup {
			return apperrors.Misconfigured(fmt.Sprintf("member %s forwarded twice", m.Name))
		}
		out[m.Name] = m
		return nil
	})

	for _, p := range plans {
		if err := sink(p); err != nil {
			return nil, err
		}
	}

	result := make([]*MemberPlan, 0, len(plans))
	for _, p := range plans {
		m, ok := out[p.Name]
		if !ok {
			return nil, apperrors.Misconfigured(fmt.Sprintf("member %s was dropped by the transform pipeline", p.Name))
		}
		result = append(result, m)
	}
	return result, nil
}
