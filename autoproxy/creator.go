package autoproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/kbukum/proxykit/config"
	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/intercept"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/observability"
	"github.com/kbukum/proxykit/proxy"
	"github.com/kbukum/proxykit/selector"
	"github.com/kbukum/proxykit/target"
	"github.com/kbukum/proxykit/transform"
)

// Instance is what Get hands out: a proxy when a selector claimed the
// definition, the factory's object otherwise.
type Instance struct {
	Proxy  *proxy.Proxy
	Direct any
}

// Proxied reports whether the instance is a proxy.
func (i Instance) Proxied() bool { return i.Proxy != nil }

// Health describes one created definition.
type Health struct {
	Identity target.Identity
	Proxied  bool
	Stats    target.Stats
}

type registration struct {
	def  target.Definition
	desc *proxy.TypeDescriptor

	mu       sync.Mutex
	created  bool
	instance Instance
}

// Option configures a Creator.
type Option func(*Creator)

// WithSelector replaces the selector chain.
func WithSelector(c *selector.Chain) Option {
	return func(cr *Creator) { cr.selector = c }
}

// WithInterceptors appends interceptors applied to every proxy.
func WithInterceptors(ics ...intercept.Interceptor) Option {
	return func(cr *Creator) { cr.proxyOpts = append(cr.proxyOpts, proxy.WithInterceptors(ics...)) }
}

// WithStages appends member transform stages applied to every proxy.
func WithStages(stages ...transform.Stage) Option {
	return func(cr *Creator) { cr.proxyOpts = append(cr.proxyOpts, proxy.WithStages(stages...)) }
}

// WithExceptionWrapping wraps undeclared failures of every proxy.
func WithExceptionWrapping(category transform.Category, carrier transform.Carrier) Option {
	return func(cr *Creator) {
		cr.proxyOpts = append(cr.proxyOpts, proxy.WithExceptionWrapping(category, carrier))
	}
}

// WithLogger sets the creator logger.
func WithLogger(l *logger.Logger) Option {
	return func(cr *Creator) { cr.log = l }
}

// Creator creates one proxy per registered definition, on first Get.
// Created sources are torn down in reverse creation order by Shutdown.
type Creator struct {
	factory   target.Factory
	selector  *selector.Chain
	proxyOpts []proxy.Option
	log       *logger.Logger
	descs     *proxy.DescriptorCache

	mu      sync.RWMutex
	defs    map[target.Identity]*registration
	created []*registration
	closed  bool
}

// New creates a Creator. Without WithSelector the chain is selector.Default
// over config.Default().
func New(factory target.Factory, opts ...Option) *Creator {
	c := &Creator{
		factory: factory,
		descs:   proxy.NewDescriptorCache(0),
		defs:    make(map[target.Identity]*registration),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.GetGlobalLogger()
	}
	c.log = c.log.WithComponent("autoproxy")
	if c.selector == nil {
		c.selector = selector.Default(config.Default(), target.WithLogger(c.log))
	}
	c.proxyOpts = append([]proxy.Option{proxy.WithLogger(c.log)}, c.proxyOpts...)
	return c
}

// FromConfig builds a Creator whose selectors and interceptors follow cfg.
// A nil metrics disables the metrics interceptor. opts are applied last.
func FromConfig(cfg config.Config, factory target.Factory, log *logger.Logger, metrics *observability.Metrics, opts ...Option) *Creator {
	targetOpts := []target.Option{target.WithLogger(log)}
	ics := intercept.FromConfig(cfg.Invocation, log)
	if metrics != nil {
		targetOpts = append(targetOpts, target.WithMetrics(metrics))
		ics = append([]intercept.Interceptor{intercept.Metrics(metrics)}, ics...)
	}
	if cfg.Telemetry.Enabled {
		ics = append([]intercept.Interceptor{intercept.Tracing(cfg.Name)}, ics...)
	}
	return New(factory, append([]Option{
		WithLogger(log),
		WithSelector(selector.Default(cfg, targetOpts...).WithLogger(log)),
		WithInterceptors(ics...),
	}, opts...)...)
}

// Register adds a definition fronted by contract desc.
func (c *Creator) Register(def target.Definition, desc *proxy.TypeDescriptor) error {
	if def.Identity == "" {
		return apperrors.InvalidInput("Register", "definition identity is empty")
	}
	if desc == nil {
		return apperrors.Misconfigured(fmt.Sprintf("definition %s has no type descriptor", def.Identity))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperrors.Closed(string(def.Identity))
	}
	if _, exists := c.defs[def.Identity]; exists {
		return apperrors.Misconfigured(fmt.Sprintf("definition %s already registered", def.Identity))
	}
	c.defs[def.Identity] = &registration{def: def, desc: desc}

	c.log.Debug("definition registered", logger.Fields(
		logger.FieldIdentity, string(def.Identity),
		"contract", desc.Name(),
	))
	return nil
}

// RegisterType registers def fronted by interface T. Descriptors built
// without options are shared through the creator's descriptor cache.
func RegisterType[T any](c *Creator, def target.Definition, opts ...proxy.DescribeOption) error {
	var (
		desc *proxy.TypeDescriptor
		err  error
	)
	if len(opts) == 0 {
		desc, err = c.descs.Describe(reflect.TypeFor[T]())
	} else {
		desc, err = proxy.Describe[T](opts...)
	}
	if err != nil {
		return err
	}
	return c.Register(def, desc)
}

// Get returns the instance for identity, creating it on first use.
func (c *Creator) Get(ctx context.Context, identity target.Identity) (Instance, error) {
	c.mu.RLock()
	reg, ok := c.defs[identity]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return Instance{}, apperrors.Closed(string(identity))
	}
	if !ok {
		return Instance{}, apperrors.NotFound("definition", string(identity))
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.created {
		return reg.instance, nil
	}

	start := time.Now()
	inst, err := c.create(ctx, reg)
	if err != nil {
		c.log.Warn("instance creation failed", logger.FailureFields(string(identity), err))
		return Instance{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if terr := c.teardown(ctx, reg.def, inst); terr != nil {
			c.log.Warn("teardown after shutdown failed", logger.FailureFields(string(identity), terr))
		}
		return Instance{}, apperrors.Closed(string(identity))
	}
	reg.instance = inst
	reg.created = true
	c.created = append(c.created, reg)
	c.mu.Unlock()

	fields := logger.ElapsedFields("create", time.Since(start))
	fields[logger.FieldIdentity] = string(identity)
	fields["proxied"] = inst.Proxied()
	c.log.Debug("instance created", fields)
	return inst, nil
}

// Proxy returns the proxy for identity, or NOT_FOUND when the definition
// resolved to a direct object.
func (c *Creator) Proxy(ctx context.Context, identity target.Identity) (*proxy.Proxy, error) {
	inst, err := c.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !inst.Proxied() {
		return nil, apperrors.NotFound("proxy", string(identity))
	}
	return inst.Proxy, nil
}

func (c *Creator) create(ctx context.Context, reg *registration) (Instance, error) {
	src, err := c.selector.Select(reg.def, reg.desc.Type(), c.factory)
	if err != nil {
		return Instance{}, err
	}
	if src == nil {
		if c.factory == nil {
			return Instance{}, apperrors.Misconfigured(fmt.Sprintf("definition %s has no factory", reg.def.Identity))
		}
		obj, err := c.factory.Create(ctx, reg.def.Identity)
		if err != nil {
			return Instance{}, err
		}
		if obj == nil || !reg.desc.ImplementedBy(reflect.TypeOf(obj)) {
			return Instance{}, apperrors.ConstructionFailed(string(reg.def.Identity),
				fmt.Errorf("factory returned %T, want %s", obj, reg.desc.Name()))
		}
		return Instance{Direct: obj}, nil
	}

	opts := append(append([]proxy.Option(nil), c.proxyOpts...), proxy.WithIdentity(string(reg.def.Identity)))
	p, err := proxy.New(ctx, reg.desc, src, opts...)
	if err != nil {
		if d, ok := src.(target.Disposable); ok {
			err = errors.Join(err, d.Destroy(ctx))
		}
		return Instance{}, err
	}
	return Instance{Proxy: p}, nil
}

// Shutdown tears down created instances in reverse creation order. Errors are
// collected and returned together; every instance is attempted.
func (c *Creator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	created := c.created
	c.created = nil
	c.mu.Unlock()

	c.log.Info("shutting down", logger.Fields("count", len(created)))
	c.descs.Clear()

	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		reg := created[i]
		reg.mu.Lock()
		if err := c.teardown(ctx, reg.def, reg.instance); err != nil {
			errs = append(errs, fmt.Errorf("failed to tear down %s: %w", reg.def.Identity, err))
			c.log.Error("teardown failed", logger.FailureFields(string(reg.def.Identity), err))
		}
		reg.created = false
		reg.instance = Instance{}
		reg.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (c *Creator) teardown(ctx context.Context, def target.Definition, inst Instance) error {
	if inst.Proxy != nil {
		return inst.Proxy.Close(ctx)
	}
	if d, ok := c.factory.(target.Destroyer); ok {
		return d.Destroy(ctx, def.Identity, inst.Direct)
	}
	if cl, ok := inst.Direct.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Health reports every created instance in creation order.
func (c *Creator) Health() []Health {
	c.mu.RLock()
	created := append([]*registration(nil), c.created...)
	c.mu.RUnlock()

	out := make([]Health, 0, len(created))
	for _, reg := range created {
		reg.mu.Lock()
		h := Health{Identity: reg.def.Identity, Proxied: reg.instance.Proxied()}
		if reg.instance.Proxy != nil {
			if r, ok := reg.instance.Proxy.Source().(target.Reporter); ok {
				h.Stats = r.Stats()
			}
		} else {
			h.Stats = target.Stats{Kind: "direct", Identity: string(reg.def.Identity), Objects: 1}
		}
		reg.mu.Unlock()
		out = append(out, h)
	}
	return out
}

// Registered returns the number of registered definitions.
func (c *Creator) Registered() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
