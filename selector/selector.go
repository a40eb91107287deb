package selector

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kbukum/proxykit/config"
	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/target"
)

// Creator builds a target source for the definitions it claims.
// It returns ok=false, with a nil source and error, when it does not apply.
type Creator interface {
	Create(def target.Definition, typ reflect.Type, f target.Factory) (src target.Source, ok bool, err error)
}

// Chain is an ordered list of creators. First claim wins.
type Chain struct {
	creators []Creator
	log      *logger.Logger
}

// NewChain creates a chain over creators, in order.
func NewChain(creators ...Creator) *Chain {
	return &Chain{
		creators: creators,
		log:      logger.GetGlobalLogger().WithComponent("selector"),
	}
}

// WithLogger returns the chain logging to l.
func (c *Chain) WithLogger(l *logger.Logger) *Chain {
	c.log = l.WithComponent("selector")
	return c
}

// Len returns the number of creators.
func (c *Chain) Len() int { return len(c.creators) }

// Create implements Creator so chains nest.
func (c *Chain) Create(def target.Definition, typ reflect.Type, f target.Factory) (target.Source, bool, error) {
	for i, cr := range c.creators {
		src, ok, err := cr.Create(def, typ, f)
		if err != nil {
			return nil, false, misconfigured(def, cr, err)
		}
		if !ok {
			continue
		}
		if src == nil {
			return nil, false, apperrors.Misconfigured(
				fmt.Sprintf("creator %T claimed %q without a target source", cr, def.Identity))
		}
		c.log.Debug("target source selected", logger.Fields(
			logger.FieldIdentity, string(def.Identity),
			"creator", fmt.Sprintf("%T", cr),
			"position", i,
		))
		return src, true, nil
	}
	return nil, false, nil
}

// Select returns the chosen source, or nil when the object should be used directly.
func (c *Chain) Select(def target.Definition, typ reflect.Type, f target.Factory) (target.Source, error) {
	src, _, err := c.Create(def, typ, f)
	return src, err
}

func misconfigured(def target.Definition, cr Creator, err error) error {
	if apperrors.HasCode(err, apperrors.ErrCodeMisconfigured) {
		return err
	}
	return apperrors.Misconfigured(fmt.Sprintf("creator %T failed for %q", cr, def.Identity)).WithCause(err)
}

// LazyInit claims definitions marked lazy.
type LazyInit struct {
	Options []target.Option
}

func (l LazyInit) Create(def target.Definition, typ reflect.Type, f target.Factory) (target.Source, bool, error) {
	if !def.Lazy {
		return nil, false, nil
	}
	src, err := target.NewLazy(def, typ, f, l.Options...)
	if err != nil {
		return nil, false, err
	}
	return src, true, nil
}

// Quick claims definitions by a sigil prefix on the identity. An empty sigil
// disables its rule. Rules are checked thread-local, prototype, pool.
type Quick struct {
	Sigils  config.SigilConfig
	Pool    target.PoolConfig
	Options []target.Option
}

// NewQuick returns a Quick using the conventional sigils and pool defaults.
func NewQuick(opts ...target.Option) Quick {
	cfg := config.Default()
	return Quick{Sigils: cfg.Sigils, Pool: PoolConfig(cfg.Pool), Options: opts}
}

func (q Quick) Create(def target.Definition, typ reflect.Type, f target.Factory) (target.Source, bool, error) {
	id := string(def.Identity)
	var (
		src target.Source
		err error
	)
	switch {
	case hasSigil(id, q.Sigils.ThreadLocal):
		src, err = target.NewThreadLocal(def, typ, f, q.Options...)
	case hasSigil(id, q.Sigils.Prototype):
		src, err = target.NewPrototype(def, typ, f, q.Options...)
	case hasSigil(id, q.Sigils.Pool):
		src, err = target.NewPool(def, typ, f, q.Pool, q.Options...)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return src, true, nil
}

func hasSigil(id, sigil string) bool {
	return sigil != "" && strings.HasPrefix(id, sigil)
}

// Func adapts a predicate and constructor pair to Creator.
type Func struct {
	Match func(def target.Definition) bool
	New   func(def target.Definition, typ reflect.Type, f target.Factory) (target.Source, error)
}

func (fn Func) Create(def target.Definition, typ reflect.Type, f target.Factory) (target.Source, bool, error) {
	if fn.Match == nil || !fn.Match(def) {
		return nil, false, nil
	}
	if fn.New == nil {
		return nil, true, nil
	}
	src, err := fn.New(def, typ, f)
	if err != nil {
		return nil, false, err
	}
	return src, true, nil
}

// PoolConfig converts configured pool defaults to target.PoolConfig.
func PoolConfig(c config.PoolConfig) target.PoolConfig {
	return target.PoolConfig{
		MaxSize:            c.MaxSize,
		MaxIdle:            c.MaxIdle,
		MinIdle:            c.MinIdle,
		MaxWait:            c.MaxWait,
		BlockWhenExhausted: c.BlockWhenExhausted,
	}
}

// Default returns the chain [LazyInit, Quick] configured from cfg.
func Default(cfg config.Config, opts ...target.Option) *Chain {
	return NewChain(
		LazyInit{Options: opts},
		Quick{Sigils: cfg.Sigils, Pool: PoolConfig(cfg.Pool), Options: opts},
	)
}
