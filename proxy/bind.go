package proxy

import (
	"context"
	"fmt"
	"reflect"

	apperrors "github.com/kbukum/proxykit/errors"
)

// Bind fills the func fields of the struct pointed to by table with
// functions that call p. A field binds to the member of the same name, or
// to the name in its `proxy` tag; a tag of "-" skips the field. Field types
// must match the member signature exactly.
//
// Bound functions without an error result panic with the call's error.
func Bind(p *Proxy, table any) error {
	v := reflect.ValueOf(table)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return apperrors.Misconfigured(fmt.Sprintf("bind target must be a non-nil pointer to a struct, got %T", table))
	}
	sv := v.Elem()
	st := sv.Type()

	bound := 0
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("proxy"); ok {
			if tag == "-" {
				continue
			}
			name = tag
		}
		m, ok := p.desc.Member(name)
		if !ok {
			return apperrors.Misconfigured(fmt.Sprintf("field %s.%s binds unknown member %s", st, field.Name, name))
		}
		if field.Type != m.Type {
			return apperrors.Misconfigured(fmt.Sprintf("field %s.%s has type %s, member %s is %s", st, field.Name, field.Type, name, m.Type))
		}
		sv.Field(i).Set(reflect.MakeFunc(m.Type, p.dispatcher(m)))
		bound++
	}
	if bound == 0 {
		return apperrors.Misconfigured(fmt.Sprintf("%s has no fields bound to %s", st, p.desc.Name()))
	}
	return nil
}

func (p *Proxy) dispatcher(m Member) func([]reflect.Value) []reflect.Value {
	return func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if m.HasContext {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, len(in))
		for i, a := range in {
			args[i] = a.Interface()
		}

		results, err := p.Invoke(ctx, m.Name, args...)
		if err != nil && !m.HasError {
			panic(err)
		}

		out := make([]reflect.Value, m.Type.NumOut())
		for i := 0; i < m.NumResults(); i++ {
			rt := m.Type.Out(i)
			out[i] = reflect.Zero(rt)
			if err == nil && i < len(results) && results[i] != nil {
				rv := reflect.ValueOf(results[i])
				if !rv.Type().AssignableTo(rt) {
					panic(apperrors.InvalidInput(m.Name, fmt.Sprintf("result %d: %s is not assignable to %s", i, rv.Type(), rt)))
				}
				out[i] = reflect.New(rt).Elem()
				out[i].Set(rv)
			}
		}
		if m.HasError {
			out[len(out)-1] = reflect.Zero(errorType)
			if err != nil {
				out[len(out)-1] = reflect.ValueOf(&err).Elem()
			}
		}
		return out
	}
}
