package proxy_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/intercept"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/proxy"
	"github.com/kbukum/proxykit/target"
	"github.com/kbukum/proxykit/transform"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Len() int
	Keys(prefixes ...string) []string
	Crash(ctx context.Context) error
}

var (
	errMissing = errors.New("missing")
	errDisk    = errors.New("disk")
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "disk":
		return "", errDisk
	}
	v, ok := s.data[key]
	if !ok {
		return "", errMissing
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *memStore) Keys(prefixes ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				keys = append(keys, k)
				break
			}
		}
	}
	return keys
}

func (s *memStore) Crash(context.Context) error { panic("crashed") }

type storeTable struct {
	Get  func(ctx context.Context, key string) (string, error)
	Put  func(ctx context.Context, key, value string) error
	Size func() int `proxy:"Len"`
	Skip func()     `proxy:"-"`
}

var storeType = reflect.TypeFor[Store]()

func storeFactory() target.Factory {
	return target.FactoryFunc(func(context.Context, target.Identity) (any, error) {
		return newMemStore(), nil
	})
}

func describe(t *testing.T, opts ...proxy.DescribeOption) *proxy.TypeDescriptor {
	t.Helper()
	d, err := proxy.Describe[Store](opts...)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	return d
}

func newProxy(t *testing.T, src target.Source, opts ...proxy.Option) *proxy.Proxy {
	t.Helper()
	opts = append([]proxy.Option{proxy.WithLogger(logger.Nop())}, opts...)
	p, err := proxy.New(context.Background(), describe(t), src, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestDescribe(t *testing.T) {
	d := describe(t)
	if d.Type() != storeType || len(d.Members()) != 5 {
		t.Fatalf("unexpected descriptor %s with %d members", d.Name(), len(d.Members()))
	}

	get, ok := d.Member("Get")
	if !ok || !get.HasContext || !get.HasError || get.NumArgs() != 1 || get.NumResults() != 1 {
		t.Errorf("unexpected Get member %+v", get)
	}
	n, _ := d.Member("Len")
	if n.HasContext || n.HasError || n.NumArgs() != 0 || n.NumResults() != 1 {
		t.Errorf("unexpected Len member %+v", n)
	}
	if _, ok := d.Member("Missing"); ok {
		t.Error("expected no member Missing")
	}
	if !d.ImplementedBy(reflect.TypeFor[*memStore]()) || d.ImplementedBy(reflect.TypeFor[memStore]()) {
		t.Error("unexpected ImplementedBy result")
	}
}

func TestDescribe_Invalid(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		opts []proxy.DescribeOption
	}{
		{"nil", nil, nil},
		{"struct", reflect.TypeFor[memStore](), nil},
		{"empty interface", reflect.TypeFor[any](), nil},
		{"unknown declared member", storeType, []proxy.DescribeOption{proxy.Declares("Nope", transform.AnyFailure)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := proxy.DescribeType(tc.typ, tc.opts...); !apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
				t.Errorf("expected MISCONFIGURED, got %v", err)
			}
		})
	}
}

func TestNew_TargetMustImplementContract(t *testing.T) {
	_, err := proxy.New(context.Background(), describe(t), target.NewSingleton("not a store"))
	if !apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
		t.Fatalf("expected MISCONFIGURED, got %v", err)
	}
	if _, err := proxy.New(context.Background(), nil, target.NewSingleton(newMemStore())); !apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
		t.Fatalf("expected MISCONFIGURED for nil descriptor, got %v", err)
	}
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()
	p := newProxy(t, target.NewSingleton(newMemStore()))

	if _, err := p.Invoke(ctx, "Put", "a", "1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	res, err := p.Invoke(ctx, "Get", "a")
	if err != nil || res[0] != "1" {
		t.Fatalf("expected 1, got %v %v", res, err)
	}
	if _, err := p.Invoke(ctx, "Get", "b"); err != errMissing {
		t.Errorf("expected target error unchanged, got %v", err)
	}
	if res, _ := p.Invoke(ctx, "Len"); res[0] != 1 {
		t.Errorf("expected len 1, got %v", res)
	}
	if res, _ := p.Invoke(ctx, "Keys", []string{"a", "z"}); len(res[0].([]string)) != 1 {
		t.Errorf("expected one key, got %v", res)
	}
}

func TestInvoke_BadCalls(t *testing.T) {
	ctx := context.Background()
	p := newProxy(t, target.NewSingleton(newMemStore()))

	if _, err := p.Invoke(ctx, "Delete", "a"); !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	tests := []struct {
		name string
		args []any
	}{
		{"too few", nil},
		{"too many", []any{"a", "b"}},
		{"wrong type", []any{42}},
		{"nil string", []any{nil}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Invoke(ctx, "Get", tc.args...); !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestInterceptorOrderAndShortCircuit(t *testing.T) {
	var order []string
	tag := func(name string) intercept.Interceptor {
		return intercept.Before(func(context.Context, *intercept.Invocation) error {
			order = append(order, name)
			return nil
		})
	}
	answer := intercept.Around(func(ctx context.Context, in *intercept.Invocation, next intercept.Handler) ([]any, error) {
		if in.Member == "Get" {
			return []any{"intercepted"}, nil
		}
		return next(ctx, in)
	})

	p := newProxy(t, target.NewEmpty(storeType), proxy.WithInterceptors(tag("A"), tag("B"), answer))
	res, err := p.Invoke(context.Background(), "Get", "k")
	if err != nil || res[0] != "intercepted" {
		t.Fatalf("expected interceptor answer, got %v %v", res, err)
	}
	if strings.Join(order, ",") != "A,B" {
		t.Errorf("expected A,B got %v", order)
	}

	_, err = p.Invoke(context.Background(), "Put", "k", "v")
	if !apperrors.HasCode(err, apperrors.ErrCodeNoTarget) || !errors.Is(err, target.ErrEmptyTarget) {
		t.Errorf("expected NO_TARGET from empty source, got %v", err)
	}
}

func TestInterceptorSeesInvocation(t *testing.T) {
	var seen *intercept.Invocation
	spy := intercept.Before(func(_ context.Context, in *intercept.Invocation) error {
		seen = in
		return nil
	})
	p := newProxy(t, target.NewSingleton(newMemStore()), proxy.WithIdentity("cache"), proxy.WithInterceptors(spy))
	_, _ = p.Invoke(context.Background(), "Put", "k", "v")

	if seen.Member != "Put" || seen.Identity != "cache" || seen.ProxyID != p.ID() || len(seen.Args) != 2 {
		t.Errorf("unexpected invocation %+v", seen)
	}
	if _, ok := seen.Target.(*memStore); !ok {
		t.Errorf("expected resolved target, got %T", seen.Target)
	}
}

func TestReleaseOnEveryPath(t *testing.T) {
	proto, err := target.NewPrototype(target.Definition{Identity: "store"}, storeType, storeFactory(), target.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	counting := target.NewCounting(proto)
	p := newProxy(t, counting)
	ctx := context.Background()

	_, _ = p.Invoke(ctx, "Put", "k", "v")
	_, _ = p.Invoke(ctx, "Get", "missing")
	_, _ = p.Invoke(ctx, "Get", 42)
	func() {
		defer func() {
			if r := recover(); r != "crashed" {
				t.Errorf("expected panic to propagate, got %v", r)
			}
		}()
		_, _ = p.Invoke(ctx, "Crash")
	}()

	if counting.Gets() != 4 {
		t.Errorf("expected 4 gets, got %d", counting.Gets())
	}
	if err := counting.Balanced(); err != nil {
		t.Error(err)
	}
}

// ctxFactory records the context state seen when instances are destroyed.
type ctxFactory struct {
	mu       sync.Mutex
	released []error
}

func (f *ctxFactory) Create(context.Context, target.Identity) (any, error) {
	return newMemStore(), nil
}

func (f *ctxFactory) Destroy(ctx context.Context, _ target.Identity, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ctx.Err())
	return nil
}

func TestReleaseOutlivesCallerCancellation(t *testing.T) {
	f := &ctxFactory{}
	proto, err := target.NewPrototype(target.Definition{Identity: "store"}, storeType, f, target.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := intercept.Before(func(context.Context, *intercept.Invocation) error {
		cancel()
		return nil
	})
	p := newProxy(t, proto, proxy.WithInterceptors(cancelling))

	if _, err := p.Invoke(ctx, "Put", "k", "v"); err != nil {
		t.Fatal(err)
	}
	if len(f.released) != 1 || f.released[0] != nil {
		t.Fatalf("expected release with a live context, got %v", f.released)
	}
}

func TestPoolConcurrency(t *testing.T) {
	pool, err := target.NewPool(target.Definition{Identity: "store"}, storeType, storeFactory(),
		target.PoolConfig{MaxSize: 2, BlockWhenExhausted: true}, target.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	counting := target.NewCounting(pool)
	p := newProxy(t, counting)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := p.Invoke(context.Background(), "Put", "k", "v"); err != nil {
					t.Errorf("Put: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := counting.Balanced(); err != nil {
		t.Error(err)
	}
	if st := pool.Stats(); st.Objects > 2 || st.Active != 0 {
		t.Errorf("pool exceeded its bound: %+v", st)
	}
}

func TestReleaseBalancedUnderRandomizedLoad(t *testing.T) {
	pool, err := target.NewPool(target.Definition{Identity: "store"}, storeType, storeFactory(),
		target.PoolConfig{MaxSize: 4, BlockWhenExhausted: true}, target.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	counting := target.NewCounting(pool)
	p := newProxy(t, counting)

	const workers = 20
	const callsPerWorker = 500
	var failures, panics atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed*31+7))
			for i := 0; i < callsPerWorker; i++ {
				func() {
					defer func() {
						if r := recover(); r != nil {
							panics.Add(1)
						}
					}()
					var err error
					switch rng.IntN(4) {
					case 0:
						_, err = p.Invoke(context.Background(), "Put", "k", "v")
					case 1:
						_, err = p.Invoke(context.Background(), "Get", "disk")
					case 2:
						_, err = p.Invoke(context.Background(), "Get", "k")
					default:
						_, err = p.Invoke(context.Background(), "Crash")
					}
					if err != nil {
						failures.Add(1)
					}
				}()
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	if got := counting.Gets(); got != workers*callsPerWorker {
		t.Errorf("expected %d gets, got %d", workers*callsPerWorker, got)
	}
	if err := counting.Balanced(); err != nil {
		t.Fatal(err)
	}
	if failures.Load() == 0 || panics.Load() == 0 {
		t.Errorf("expected injected failures and panics, got %d and %d", failures.Load(), panics.Load())
	}
	if st := pool.Stats(); st.Active != 0 || st.Objects > 4 {
		t.Errorf("pool leaked leases or grew past MaxSize: %+v", st)
	}
}

func TestExceptionWrapping(t *testing.T) {
	d := describe(t, proxy.Declares("Get", transform.Is(errMissing)))
	p, err := proxy.New(context.Background(), d, target.NewSingleton(newMemStore()),
		proxy.WithLogger(logger.Nop()),
		proxy.WithExceptionWrapping(transform.AnyFailure, transform.DefaultCarrier))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := p.Invoke(ctx, "Get", "absent"); err != errMissing {
		t.Errorf("declared failure must pass unchanged, got %v", err)
	}
	_, err = p.Invoke(ctx, "Get", "disk")
	if !apperrors.HasCode(err, apperrors.ErrCodeUndeclaredFailure) || !errors.Is(err, errDisk) {
		t.Errorf("expected undeclared failure wrapping disk error, got %v", err)
	}
	_, err = p.Invoke(ctx, "Crash")
	var pe *transform.PanicError
	if !errors.As(err, &pe) || pe.Value != "crashed" {
		t.Errorf("expected wrapped panic, got %v", err)
	}
}

func TestBind(t *testing.T) {
	p := newProxy(t, target.NewSingleton(newMemStore()))
	var s storeTable
	if err := proxy.Bind(p, &s); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if s.Skip != nil {
		t.Error("tagged field must be skipped")
	}

	ctx := context.Background()
	if err := s.Put(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Get(ctx, "a"); err != nil || v != "1" {
		t.Errorf("expected 1, got %q %v", v, err)
	}
	if v, err := s.Get(ctx, "b"); err != errMissing || v != "" {
		t.Errorf("expected zero value and error, got %q %v", v, err)
	}
	if s.Size() != 1 {
		t.Errorf("expected size 1, got %d", s.Size())
	}
}

func TestBind_PanicsWithoutErrorResult(t *testing.T) {
	p := newProxy(t, target.NewEmpty(storeType))
	var s storeTable
	if err := proxy.Bind(p, &s); err != nil {
		t.Fatal(err)
	}
	defer func() {
		err, _ := recover().(error)
		if !apperrors.HasCode(err, apperrors.ErrCodeNoTarget) {
			t.Errorf("expected NO_TARGET panic, got %v", err)
		}
	}()
	s.Size()
	t.Error("expected panic")
}

func TestBind_Invalid(t *testing.T) {
	p := newProxy(t, target.NewSingleton(newMemStore()))
	var wrongType struct {
		Get func(key string) (string, error)
	}
	var unknown struct {
		Delete func(ctx context.Context, key string) error
	}
	var none struct{ Name string }

	tests := []struct {
		name  string
		table any
	}{
		{"not a pointer", storeTable{}},
		{"nil", (*storeTable)(nil)},
		{"wrong signature", &wrongType},
		{"unknown member", &unknown},
		{"no func fields", &none},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := proxy.Bind(p, tc.table); !apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
				t.Errorf("expected MISCONFIGURED, got %v", err)
			}
		})
	}
}

func TestCallHelpers(t *testing.T) {
	ctx := context.Background()
	p := newProxy(t, target.NewSingleton(newMemStore()))

	if err := proxy.Call0(ctx, p, "Put", "a", "1"); err != nil {
		t.Fatal(err)
	}
	v, err := proxy.Call[string](ctx, p, "Get", "a")
	if err != nil || v != "1" {
		t.Errorf("expected 1, got %q %v", v, err)
	}
	if _, err := proxy.Call[int](ctx, p, "Get", "a"); !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for wrong result type, got %v", err)
	}
	if _, _, err := proxy.Call2[string, int](ctx, p, "Get", "a"); !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for missing result, got %v", err)
	}
	if n, err := proxy.Call[int](ctx, p, "Len"); err != nil || n != 1 {
		t.Errorf("expected 1, got %d %v", n, err)
	}
}

func TestClose(t *testing.T) {
	lazy, err := target.NewLazy(target.Definition{Identity: "store"}, storeType, storeFactory(), target.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	p := newProxy(t, lazy)
	ctx := context.Background()
	if _, err := p.Invoke(ctx, "Len"); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if lazy.IsInitialized() {
		t.Error("expected lazy source to be destroyed")
	}
	if _, err := p.Invoke(ctx, "Len"); !apperrors.HasCode(err, apperrors.ErrCodeClosed) {
		t.Errorf("expected CLOSED, got %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}
}
