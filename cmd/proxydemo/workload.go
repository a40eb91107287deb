package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/proxykit/autoproxy"
	"github.com/kbukum/proxykit/config"
	apperrors "github.com/kbukum/proxykit/errors"
	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/proxy"
	"github.com/kbukum/proxykit/target"
	"github.com/kbukum/proxykit/transform"
)

// tally counts workload outcomes per definition.
type tally struct {
	ok, outOfStock, exhausted, failed atomic.Int64
}

func (t *tally) record(err error) {
	switch {
	case err == nil:
		t.ok.Add(1)
	case errors.Is(err, ErrOutOfStock):
		t.outOfStock.Add(1)
	case apperrors.HasCode(err, apperrors.ErrCodePoolExhausted):
		t.exhausted.Add(1)
	default:
		t.failed.Add(1)
	}
}

// definitions returns one definition per target source kind, plus one
// that no selector claims.
func definitions(cfg config.Config) []target.Definition {
	return []target.Definition{
		{Identity: "inventory", Lazy: true},
		{Identity: target.Identity(cfg.Sigils.Prototype + "inventory")},
		{Identity: target.Identity(cfg.Sigils.ThreadLocal + "inventory")},
		{Identity: target.Identity(cfg.Sigils.Pool + "inventory")},
		{Identity: "direct-inventory"},
	}
}

type endpoint struct {
	id     target.Identity
	table  inventoryTable
	direct Inventory
	local  *target.ThreadLocal
	tally  *tally
}

func (e *endpoint) reserve(ctx context.Context, sku string) error {
	if e.direct != nil {
		_, err := e.direct.Reserve(ctx, sku, 1)
		return err
	}
	_, err := e.table.Reserve(ctx, sku, 1)
	return err
}

func runWorkload(ctx context.Context, creator *autoproxy.Creator, cfg config.Config, opts options, log *logger.Logger) error {
	desc, err := proxy.Describe[Inventory](proxy.Declares("Reserve", transform.Is(ErrOutOfStock)))
	if err != nil {
		return err
	}

	var endpoints []*endpoint
	for _, def := range definitions(cfg) {
		if err := creator.Register(def, desc); err != nil {
			return err
		}
		inst, err := creator.Get(ctx, def.Identity)
		if err != nil {
			return fmt.Errorf("creating %s: %w", def.Identity, err)
		}
		ep := &endpoint{id: def.Identity, tally: &tally{}}
		if inst.Proxied() {
			if err := proxy.Bind(inst.Proxy, &ep.table); err != nil {
				return err
			}
			ep.local, _ = inst.Proxy.Source().(*target.ThreadLocal)
		} else {
			ep.direct = inst.Direct.(Inventory)
		}
		endpoints = append(endpoints, ep)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			wctx, slot := target.WithSlot(ctx)
			sku := fmt.Sprintf("sku-%d", worker%2+1)
			for i := 0; i < opts.calls && wctx.Err() == nil; i++ {
				for _, ep := range endpoints {
					ep.tally.record(ep.reserve(wctx, sku))
				}
			}
			for _, ep := range endpoints {
				if ep.local == nil {
					continue
				}
				if err := ep.local.ReleaseSlot(wctx, slot); err != nil {
					log.Warn("slot release failed", logger.FailureFields(string(ep.id), err))
				}
			}
		}(w)
	}
	wg.Wait()

	for _, ep := range endpoints {
		fields := logger.ElapsedFields("workload", time.Since(start))
		fields[logger.FieldIdentity] = string(ep.id)
		fields["ok"] = ep.tally.ok.Load()
		fields["out_of_stock"] = ep.tally.outOfStock.Load()
		fields["exhausted"] = ep.tally.exhausted.Load()
		fields["failed"] = ep.tally.failed.Load()
		// thread-local targets need a slot, which Audit cannot carry
		if ep.direct == nil && ep.local == nil {
			fields["audit"] = ep.table.Audit()
		}
		log.Info("workload summary", fields)
	}
	for _, h := range creator.Health() {
		log.Info("source health", logger.Fields(
			logger.FieldIdentity, string(h.Identity),
			logger.FieldSource, h.Stats.Kind,
			"proxied", h.Proxied,
			"invocations", h.Stats.Invocations,
			"objects", h.Stats.Objects,
			"active", h.Stats.Active,
			"idle", h.Stats.Idle,
		))
	}
	return ctx.Err()
}
