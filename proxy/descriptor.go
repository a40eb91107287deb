package proxy

import (
	"context"
	"fmt"
	"reflect"

	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/transform"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Member is one callable member of a contract.
type Member struct {
	Name string
	// Type is the member func type, without a receiver.
	Type reflect.Type
	// HasContext is set when the first parameter is a context.Context.
	HasContext bool
	// HasError is set when the last result is an error.
	HasError bool
	// Declared lists the failure categories the member lets through.
	Declared []transform.Category
}

// NumArgs returns the number of arguments excluding the context.
func (m Member) NumArgs() int {
	if m.HasContext {
		return m.Type.NumIn() - 1
	}
	return m.Type.NumIn()
}

// NumResults returns the number of results excluding the error.
func (m Member) NumResults() int {
	if m.HasError {
		return m.Type.NumOut() - 1
	}
	return m.Type.NumOut()
}

// ArgType returns the type of argument i, excluding the context.
func (m Member) ArgType(i int) reflect.Type {
	if m.HasContext {
		i++
	}
	return m.Type.In(i)
}

// TypeDescriptor is the immutable member table of an interface contract.
type TypeDescriptor struct {
	typ     reflect.Type
	members []Member
	index   map[string]int
}

// DescribeOption configures a descriptor.
type DescribeOption func(*describeConfig)

type describeConfig struct {
	declared map[string][]transform.Category
	all      []transform.Category
}

// Declares lets member pass failures in categories through unchanged.
func Declares(member string, categories ...transform.Category) DescribeOption {
	return func(c *describeConfig) {
		c.declared[member] = append(c.declared[member], categories...)
	}
}

// DeclaresAll lets every member pass failures in categories through unchanged.
func DeclaresAll(categories ...transform.Category) DescribeOption {
	return func(c *describeConfig) { c.all = append(c.all, categories...) }
}

// Describe builds the descriptor of interface T.
func Describe[T any](opts ...DescribeOption) (*TypeDescriptor, error) {
	return DescribeType(reflect.TypeFor[T](), opts...)
}

// DescribeType builds the descriptor of interface type t.
func DescribeType(t reflect.Type, opts ...DescribeOption) (*TypeDescriptor, error) {
	if t == nil || t.Kind() != reflect.Interface {
		return nil, apperrors.Misconfigured(fmt.Sprintf("proxy contract must be an interface type, got %v", t))
	}
	if t.NumMethod() == 0 {
		return nil, apperrors.Misconfigured(fmt.Sprintf("proxy contract %s has no methods", t))
	}

	cfg := describeConfig{declared: make(map[string][]transform.Category)}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &TypeDescriptor{
		typ:     t,
		members: make([]Member, 0, t.NumMethod()),
		index:   make(map[string]int, t.NumMethod()),
	}
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		ft := method.Type
		m := Member{
			Name:       method.Name,
			Type:       ft,
			HasContext: ft.NumIn() > 0 && ft.In(0) == contextType,
			HasError:   ft.NumOut() > 0 && ft.Out(ft.NumOut()-1) == errorType,
		}
		m.Declared = append(append([]transform.Category(nil), cfg.all...), cfg.declared[method.Name]...)
		d.index[m.Name] = len(d.members)
		d.members = append(d.members, m)
	}

	for name := range cfg.declared {
		if _, ok := d.index[name]; !ok {
			return nil, apperrors.Misconfigured(fmt.Sprintf("declared failures for unknown member %s.%s", t, name))
		}
	}
	return d, nil
}

// Type returns the contract interface type.
func (d *TypeDescriptor) Type() reflect.Type { return d.typ }

// Name returns the contract type name.
func (d *TypeDescriptor) Name() string { return d.typ.String() }

// Members returns a copy of the member table, in method order.
func (d *TypeDescriptor) Members() []Member {
	out := make([]Member, len(d.members))
	copy(out, d.members)
	return out
}

// Member looks up a member by name.
func (d *TypeDescriptor) Member(name string) (Member, bool) {
	i, ok := d.index[name]
	if !ok {
		return Member{}, false
	}
	return d.members[i], true
}

// ImplementedBy reports whether values of type t satisfy the contract.
func (d *TypeDescriptor) ImplementedBy(t reflect.Type) bool {
	return t != nil && t.Implements(d.typ)
}
