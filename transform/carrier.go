package transform

import (
	"fmt"
	"reflect"

	apperrors "github.com/kbukum/proxykit/errors"
)

var errorType = reflect.TypeFor[error]()

// Carrier builds the error that undeclared failures are wrapped in.
// The zero Carrier is invalid and rejected by ExceptionWrapping.
type Carrier struct {
	typ  reflect.Type
	wrap func(cause error) error
}

// Type returns the carrier error type.
func (c Carrier) Type() reflect.Type { return c.typ }

// Wrap builds a carrier around cause.
func (c Carrier) Wrap(cause error) error { return c.wrap(cause) }

// Valid reports whether the carrier can build errors.
func (c Carrier) Valid() bool { return c.wrap != nil }

// CarrierFunc builds a carrier from a typed constructor.
func CarrierFunc[E error](ctor func(cause error) E) Carrier {
	return Carrier{
		typ:  reflect.TypeFor[E](),
		wrap: func(cause error) error { return ctor(cause) },
	}
}

// NewCarrier builds a carrier from a constructor of the form func(error) E,
// where E implements error. Anything else fails with MISCONFIGURED.
func NewCarrier(ctor any) (Carrier, error) {
	v := reflect.ValueOf(ctor)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return Carrier{}, apperrors.Misconfigured(fmt.Sprintf("carrier constructor must be a func(error) error, got %T", ctor))
	}
	t := v.Type()
	if t.NumIn() != 1 || t.In(0) != errorType || t.IsVariadic() {
		return Carrier{}, apperrors.Misconfigured(fmt.Sprintf("carrier constructor %s must take exactly one error", t))
	}
	if t.NumOut() != 1 || !t.Out(0).Implements(errorType) {
		return Carrier{}, apperrors.Misconfigured(fmt.Sprintf("carrier constructor %s must return exactly one error type", t))
	}

	return Carrier{
		typ: t.Out(0),
		wrap: func(cause error) error {
			in := reflect.New(errorType).Elem()
			if cause != nil {
				in.Set(reflect.ValueOf(cause))
			}
			out := v.Call([]reflect.Value{in})[0]
			if k := out.Kind(); (k == reflect.Interface || k == reflect.Pointer) && out.IsNil() {
				return apperrors.UndeclaredFailure(cause)
			}
			return out.Interface().(error)
		},
	}, nil
}

// CarrierType builds a carrier from a pointer-to-struct error type with an
// exported Cause field of type error.
func CarrierType(t reflect.Type) (Carrier, error) {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return Carrier{}, apperrors.Misconfigured(fmt.Sprintf("carrier type %v must be a pointer to a struct", t))
	}
	if !t.Implements(errorType) {
		return Carrier{}, apperrors.Misconfigured(fmt.Sprintf("carrier type %s does not implement error", t))
	}
	field, ok := t.Elem().FieldByName("Cause")
	if !ok || !field.IsExported() || field.Type != errorType || len(field.Index) != 1 {
		return Carrier{}, apperrors.Misconfigured(fmt.Sprintf("carrier type %s needs a Cause error field", t))
	}

	idx := field.Index[0]
	return Carrier{
		typ: t,
		wrap: func(cause error) error {
			v := reflect.New(t.Elem())
			if cause != nil {
				v.Elem().Field(idx).Set(reflect.ValueOf(cause))
			}
			return v.Interface().(error)
		},
	}, nil
}

// DefaultCarrier wraps failures in an UNDECLARED_FAILURE AppError.
var DefaultCarrier = CarrierFunc(apperrors.UndeclaredFailure)
