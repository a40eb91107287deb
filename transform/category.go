package transform

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync/atomic"

	apperrors "github.com/kbukum/proxykit/errors"
)

var categoryIDs atomic.Uint64

// Category is a named class of failures. Every constructor call yields a
// distinct category, whatever its name.
type Category struct {
	id    uint64
	name  string
	match func(error) bool
}

// NewCategory creates a category from a predicate.
func NewCategory(name string, match func(error) bool) Category {
	return Category{id: categoryIDs.Add(1), name: name, match: match}
}

// Same reports whether c and o come from the same constructor call.
func (c Category) Same(o Category) bool { return c.id != 0 && c.id == o.id }

// Name returns the category name.
func (c Category) Name() string { return c.name }

// Matches reports whether err belongs to the category.
func (c Category) Matches(err error) bool {
	return err != nil && c.match != nil && c.match(err)
}

func (c Category) String() string { return c.name }

// AnyFailure matches every non-nil error, recovered panics included.
var AnyFailure = NewCategory("any", func(error) bool { return true })

// Panics matches recovered panics.
var Panics = NewCategory("panic", func(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
})

// Is matches errors for which errors.Is(err, target) holds.
func Is(target error) Category {
	return NewCategory("is:"+target.Error(), func(err error) bool { return errors.Is(err, target) })
}

// As matches errors with an E in their chain.
func As[E error]() Category {
	return NewCategory("as:"+reflect.TypeFor[E]().String(), func(err error) bool {
		var target E
		return errors.As(err, &target)
	})
}

// Code matches AppErrors carrying code.
func Code(code apperrors.ErrorCode) Category {
	return NewCategory("code:"+string(code), func(err error) bool { return apperrors.HasCode(err, code) })
}

// PanicError is the failure a recovered panic turns into.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
