package autoproxy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kbukum/proxykit/config"
	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/intercept"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/observability"
	"github.com/kbukum/proxykit/proxy"
	"github.com/kbukum/proxykit/target"
)

type Greeter interface {
	Greet(ctx context.Context, name string) (string, error)
}

type greeter struct {
	id     target.Identity
	serial int64
}

func (g *greeter) Greet(_ context.Context, name string) (string, error) {
	return "hello " + name, nil
}

type notAGreeter struct{}

// recordingFactory creates greeters and records destroy order.
type recordingFactory struct {
	calls atomic.Int64

	mu        sync.Mutex
	destroyed []string
	failOn    map[target.Identity]error
	wrongType bool
}

func (f *recordingFactory) Create(_ context.Context, id target.Identity) (any, error) {
	n := f.calls.Add(1)
	if f.wrongType {
		return &notAGreeter{}, nil
	}
	return &greeter{id: id, serial: n}, nil
}

func (f *recordingFactory) Destroy(_ context.Context, id target.Identity, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, string(id))
	return f.failOn[id]
}

func newCreator(t *testing.T, f target.Factory, opts ...Option) *Creator {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	return New(f, opts...)
}

func register(t *testing.T, c *Creator, defs ...target.Definition) {
	t.Helper()
	for _, def := range defs {
		if err := RegisterType[Greeter](c, def); err != nil {
			t.Fatalf("Register %s: %v", def.Identity, err)
		}
	}
}

func greet(t *testing.T, ctx context.Context, c *Creator, id target.Identity) string {
	t.Helper()
	p, err := c.Proxy(ctx, id)
	if err != nil {
		t.Fatalf("Proxy %s: %v", id, err)
	}
	s, err := proxy.Call[string](ctx, p, "Greet", "bob")
	if err != nil {
		t.Fatalf("Greet via %s: %v", id, err)
	}
	return s
}

func TestGet_DirectWhenUnclaimed(t *testing.T) {
	f := &recordingFactory{}
	c := newCreator(t, f)
	register(t, c, target.Definition{Identity: "plain"})

	first, err := c.Get(context.Background(), "plain")
	if err != nil {
		t.Fatal(err)
	}
	if first.Proxied() {
		t.Fatal("expected direct object")
	}
	if _, ok := first.Direct.(Greeter); !ok {
		t.Fatalf("expected a Greeter, got %T", first.Direct)
	}
	second, _ := c.Get(context.Background(), "plain")
	if second.Direct != first.Direct || f.calls.Load() != 1 {
		t.Errorf("expected cached direct object, factory calls %d", f.calls.Load())
	}
	if _, err := c.Proxy(context.Background(), "plain"); !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND for proxy of direct object, got %v", err)
	}
}

func TestGet_SelectedSources(t *testing.T) {
	f := &recordingFactory{}
	c := newCreator(t, f)
	register(t, c,
		target.Definition{Identity: "!proto"},
		target.Definition{Identity: "%local"},
		target.Definition{Identity: ":pooled"},
		target.Definition{Identity: "lazy", Lazy: true},
	)
	ctx, _ := target.WithSlot(context.Background())

	tests := []struct {
		id   target.Identity
		kind string
	}{
		{"!proto", "prototype"},
		{"%local", "thread_local"},
		{":pooled", "pool"},
		{"lazy", "lazy"},
	}
	for _, tc := range tests {
		t.Run(string(tc.id), func(t *testing.T) {
			if got := greet(t, ctx, c, tc.id); got != "hello bob" {
				t.Errorf("unexpected greeting %q", got)
			}
		})
	}

	health := c.Health()
	if len(health) != len(tests) {
		t.Fatalf("expected %d health entries, got %d", len(tests), len(health))
	}
	for i, h := range health {
		if h.Identity != tests[i].id || !h.Proxied || h.Stats.Kind != tests[i].kind {
			t.Errorf("entry %d: unexpected health %+v", i, h)
		}
	}
}

func TestGet_ProxyCachedUnderConcurrency(t *testing.T) {
	c := newCreator(t, &recordingFactory{})
	register(t, c, target.Definition{Identity: "!proto"})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		proxies = map[*proxy.Proxy]bool{}
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Proxy(context.Background(), "!proto")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			proxies[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(proxies) != 1 {
		t.Errorf("expected one proxy per definition, got %d", len(proxies))
	}
}

func TestInterceptorsApplied(t *testing.T) {
	var members []string
	record := intercept.Before(func(_ context.Context, in *intercept.Invocation) error {
		members = append(members, in.Identity+"."+in.Member)
		return nil
	})
	c := newCreator(t, &recordingFactory{}, WithInterceptors(record))
	register(t, c, target.Definition{Identity: "!proto"})

	greet(t, context.Background(), c, "!proto")
	if strings.Join(members, ",") != "!proto.Greet" {
		t.Errorf("unexpected interceptions %v", members)
	}
}

func TestRegister_Errors(t *testing.T) {
	c := newCreator(t, &recordingFactory{})
	register(t, c, target.Definition{Identity: "a"})

	if err := RegisterType[Greeter](c, target.Definition{Identity: "a"}); !apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
		t.Errorf("expected MISCONFIGURED for duplicate, got %v", err)
	}
	if err := RegisterType[Greeter](c, target.Definition{}); !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for empty identity, got %v", err)
	}
	if err := c.Register(target.Definition{Identity: "b"}, nil); !apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
		t.Errorf("expected MISCONFIGURED for nil descriptor, got %v", err)
	}
	if _, err := c.Get(context.Background(), "missing"); !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if c.Registered() != 1 {
		t.Errorf("expected 1 registration, got %d", c.Registered())
	}
}

func TestGet_DirectWrongType(t *testing.T) {
	c := newCreator(t, &recordingFactory{wrongType: true})
	register(t, c, target.Definition{Identity: "plain"})
	if _, err := c.Get(context.Background(), "plain"); !apperrors.HasCode(err, apperrors.ErrCodeConstructionFailed) {
		t.Fatalf("expected CONSTRUCTION_FAILED, got %v", err)
	}
}

func TestShutdown_ReverseOrder(t *testing.T) {
	f := &recordingFactory{}
	c := newCreator(t, f)
	register(t, c,
		target.Definition{Identity: "first"},
		target.Definition{Identity: "second", Lazy: true},
		target.Definition{Identity: "third"},
	)
	ctx := context.Background()
	for _, id := range []target.Identity{"first", "second", "third"} {
		if _, err := c.Get(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	greet(t, ctx, c, "second")

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := strings.Join(f.destroyed, ","); got != "third,second,first" {
		t.Errorf("expected reverse teardown, got %s", got)
	}
	if _, err := c.Get(ctx, "first"); !apperrors.HasCode(err, apperrors.ErrCodeClosed) {
		t.Errorf("expected CLOSED after shutdown, got %v", err)
	}
	if err := RegisterType[Greeter](c, target.Definition{Identity: "late"}); !apperrors.HasCode(err, apperrors.ErrCodeClosed) {
		t.Errorf("expected CLOSED register after shutdown, got %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown must be a no-op, got %v", err)
	}
}

func TestShutdown_AggregatesErrors(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	f := &recordingFactory{failOn: map[target.Identity]error{"a": errA, "c": errC}}
	c := newCreator(t, f)
	register(t, c, target.Definition{Identity: "a"}, target.Definition{Identity: "b"}, target.Definition{Identity: "c"})
	for _, id := range []target.Identity{"a", "b", "c"} {
		if _, err := c.Get(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}

	err := c.Shutdown(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Fatalf("expected both teardown errors, got %v", err)
	}
	if len(f.destroyed) != 3 {
		t.Errorf("every instance must be attempted, got %v", f.destroyed)
	}
}

func TestFromConfig(t *testing.T) {
	m, err := observability.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Sigils.Prototype = "@"
	cfg.Invocation.RetryAttempts = 2

	c := FromConfig(cfg, &recordingFactory{}, logger.Nop(), m)
	register(t, c, target.Definition{Identity: "@proto"}, target.Definition{Identity: "!plain"})

	if got := greet(t, context.Background(), c, "@proto"); got != "hello bob" {
		t.Errorf("unexpected greeting %q", got)
	}
	inst, err := c.Get(context.Background(), "!plain")
	if err != nil || inst.Proxied() {
		t.Errorf("expected default sigil to be replaced, got %+v %v", inst, err)
	}
}

func TestRegisterType_SharesDescriptors(t *testing.T) {
	c := newCreator(t, &recordingFactory{})
	register(t, c, target.Definition{Identity: "!a"}, target.Definition{Identity: "!b"})

	a, _ := c.Proxy(context.Background(), "!a")
	b, _ := c.Proxy(context.Background(), "!b")
	if a.Descriptor() != b.Descriptor() || c.descs.Len() != 1 {
		t.Errorf("expected one shared descriptor, cache len %d", c.descs.Len())
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.descs.Len() != 0 {
		t.Errorf("expected descriptor cache cleared on shutdown, got %d", c.descs.Len())
	}
}
