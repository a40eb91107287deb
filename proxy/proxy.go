package proxy

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/intercept"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/target"
	"github.com/kbukum/proxykit/transform"
)

// Option configures a Proxy.
type Option func(*options)

type options struct {
	identity     string
	interceptors []intercept.Interceptor
	stages       []transform.Stage
	log          *logger.Logger
}

// WithIdentity names the definition the proxy fronts.
func WithIdentity(identity string) Option {
	return func(o *options) { o.identity = identity }
}

// WithInterceptors appends interceptors. The first one is outermost.
func WithInterceptors(ics ...intercept.Interceptor) Option {
	return func(o *options) { o.interceptors = append(o.interceptors, ics...) }
}

// WithStages appends member transform stages.
func WithStages(stages ...transform.Stage) Option {
	return func(o *options) { o.stages = append(o.stages, stages...) }
}

// WithExceptionWrapping wraps undeclared failures in category with carrier on
// every exported member.
func WithExceptionWrapping(category transform.Category, carrier transform.Carrier) Option {
	return WithStages(transform.Filter(transform.ExportedOnly, transform.ExceptionWrapping(category, carrier)))
}

// WithLogger sets the proxy logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Proxy dispatches calls on a contract through an interceptor chain to
// targets obtained from a source. The chain and member bodies are frozen at
// construction; a Proxy is safe for concurrent use.
type Proxy struct {
	id       string
	identity string
	desc     *TypeDescriptor
	source   target.Source
	handlers []intercept.Handler
	plans    []*transform.MemberPlan
	static   bool
	instance any
	closed   atomic.Bool
	log      *logger.Logger
}

// New builds a proxy over source for the contract desc.
// Static sources are resolved once, here.
func New(ctx context.Context, desc *TypeDescriptor, source target.Source, opts ...Option) (*Proxy, error) {
	if desc == nil {
		return nil, apperrors.Misconfigured("proxy requires a type descriptor")
	}
	if source == nil {
		return nil, apperrors.Misconfigured(fmt.Sprintf("proxy for %s requires a target source", desc.Name()))
	}
	if typ := source.TargetType(); !desc.ImplementedBy(typ) {
		return nil, apperrors.Misconfigured(fmt.Sprintf("target type %v does not implement %s", typ, desc.Name()))
	}

	o := options{identity: desc.Name()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.GetGlobalLogger()
	}

	p := &Proxy{
		id:       uuid.NewString(),
		identity: o.identity,
		desc:     desc,
		source:   source,
		static:   source.IsStatic(),
	}
	p.log = o.log.WithComponent("proxy").WithFields(logger.Fields(
		logger.FieldIdentity, p.identity,
		logger.FieldProxy, p.id,
	))

	plans := make([]*transform.MemberPlan, len(desc.members))
	for i, m := range desc.members {
		plans[i] = &transform.MemberPlan{
			Name:      m.Name,
			Signature: m.Type,
			Declared:  m.Declared,
			Body:      memberBody(m, p.identity),
		}
	}
	plans, err := transform.Apply(plans, transform.Pipeline(o.stages...))
	if err != nil {
		return nil, err
	}
	p.plans = plans

	chain := intercept.Chain(append([]intercept.Interceptor(nil), o.interceptors...)...)
	p.handlers = make([]intercept.Handler, len(plans))
	for i, plan := range plans {
		body := plan.Body
		p.handlers[i] = chain(func(ctx context.Context, in *intercept.Invocation) ([]any, error) {
			return body(ctx, in.Target, in.Args)
		})
	}

	if p.static {
		inst, err := source.GetTarget(ctx)
		if err != nil {
			return nil, err
		}
		p.instance = inst
	}

	p.log.Debug("proxy created", logger.Fields(
		"members", len(plans),
		"interceptors", len(o.interceptors),
		"static", p.static,
	))
	return p, nil
}

// ID returns the proxy instance id.
func (p *Proxy) ID() string { return p.id }

// Identity returns the definition the proxy fronts.
func (p *Proxy) Identity() string { return p.identity }

// Descriptor returns the contract descriptor.
func (p *Proxy) Descriptor() *TypeDescriptor { return p.desc }

// Source returns the target source.
func (p *Proxy) Source() target.Source { return p.source }

// Invoke calls member with args, excluding any leading context. Results
// exclude a trailing error. Non-static targets are released on every path,
// panics included.
func (p *Proxy) Invoke(ctx context.Context, member string, args ...any) (results []any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.closed.Load() {
		return nil, apperrors.Closed(p.identity)
	}
	idx, ok := p.desc.index[member]
	if !ok {
		return nil, apperrors.NotFound("member", p.desc.Name()+"."+member)
	}
	m := p.desc.members[idx]
	if len(args) != m.NumArgs() {
		return nil, apperrors.InvalidInput(member, fmt.Sprintf("expected %d arguments, got %d", m.NumArgs(), len(args)))
	}

	inst := p.instance
	if !p.static {
		inst, err = p.source.GetTarget(ctx)
		if err != nil {
			return nil, err
		}
		releaseCtx := context.WithoutCancel(ctx)
		defer func() {
			if rerr := p.source.ReleaseTarget(releaseCtx, inst); rerr != nil {
				if err == nil {
					err = rerr
					return
				}
				p.log.WithError(rerr).Warn("target release failed", logger.CallFields(p.identity, member))
			}
		}()
	}

	ctx = context.WithValue(ctx, logger.ContextKey(logger.FieldProxy), p.id)
	in := &intercept.Invocation{
		Member:    m.Name,
		Signature: m.Type,
		Args:      append([]any(nil), args...),
		Target:    inst,
		Identity:  p.identity,
		ProxyID:   p.id,
	}
	return p.handlers[idx](ctx, in)
}

// Close marks the proxy closed and destroys a disposable source.
// Further calls fail with CLOSED.
func (p *Proxy) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d, ok := p.source.(target.Disposable); ok {
		return d.Destroy(ctx)
	}
	return nil
}

// memberBody calls m on the resolved target by reflection.
func memberBody(m Member, identity string) transform.Body {
	return func(ctx context.Context, tgt any, args []any) ([]any, error) {
		if tgt == nil {
			return nil, apperrors.NoTarget(identity, "no target for "+m.Name).WithCause(target.ErrEmptyTarget)
		}
		method := reflect.ValueOf(tgt).MethodByName(m.Name)
		if !method.IsValid() {
			return nil, apperrors.Misconfigured(fmt.Sprintf("target %T has no member %s", tgt, m.Name))
		}
		in, err := m.callArgs(ctx, args)
		if err != nil {
			return nil, err
		}
		var out []reflect.Value
		if m.Type.IsVariadic() {
			out = method.CallSlice(in)
		} else {
			out = method.Call(in)
		}
		return m.splitResults(out)
	}
}

func (m Member) callArgs(ctx context.Context, args []any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, m.Type.NumIn())
	if m.HasContext {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	if len(args) != m.NumArgs() {
		return nil, apperrors.InvalidInput(m.Name, fmt.Sprintf("expected %d arguments, got %d", m.NumArgs(), len(args)))
	}
	for i, a := range args {
		v, err := argValue(m.ArgType(i), a)
		if err != nil {
			return nil, apperrors.InvalidInput(m.Name, fmt.Sprintf("argument %d: %v", i, err))
		}
		in = append(in, v)
	}
	return in, nil
}

func argValue(t reflect.Type, a any) (reflect.Value, error) {
	if a == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not a valid %s", t)
	}
	v := reflect.ValueOf(a)
	if !v.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), t)
	}
	if t.Kind() == reflect.Interface {
		iv := reflect.New(t).Elem()
		iv.Set(v)
		return iv, nil
	}
	return v, nil
}

func (m Member) splitResults(out []reflect.Value) ([]any, error) {
	n := m.NumResults()
	results := make([]any, n)
	for i := 0; i < n; i++ {
		results[i] = out[i].Interface()
	}
	if m.HasError && !out[n].IsNil() {
		return results, out[n].Interface().(error)
	}
	return results, nil
}
