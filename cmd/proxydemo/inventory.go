package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/proxykit/target"
)

// Inventory is the contract every demo definition is proxied through.
type Inventory interface {
	Reserve(ctx context.Context, sku string, qty int) (int, error)
	Stock(ctx context.Context, sku string) (int, error)
	Audit() string
}

// ErrOutOfStock is the declared failure of Reserve.
var ErrOutOfStock = errors.New("out of stock")

// inventoryTable is the dispatch table bound over each proxy.
type inventoryTable struct {
	Reserve func(ctx context.Context, sku string, qty int) (int, error)
	Stock   func(ctx context.Context, sku string) (int, error)
	Audit   func() string
}

// warehouse is an in-memory Inventory. Each instance keeps its own stock.
type warehouse struct {
	serial int64

	mu    sync.Mutex
	stock map[string]int
}

func (w *warehouse) Reserve(_ context.Context, sku string, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("reserve %s: quantity %d must be positive", sku, qty)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	left, ok := w.stock[sku]
	if !ok {
		return 0, fmt.Errorf("reserve %s: unknown sku", sku)
	}
	if left < qty {
		return left, ErrOutOfStock
	}
	w.stock[sku] = left - qty
	return w.stock[sku], nil
}

func (w *warehouse) Stock(_ context.Context, sku string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stock[sku], nil
}

func (w *warehouse) Audit() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("warehouse#%d skus=%d", w.serial, len(w.stock))
}

// warehouseFactory builds warehouses seeded with the same stock.
type warehouseFactory struct {
	seed      map[string]int
	created   atomic.Int64
	destroyed atomic.Int64
}

func (f *warehouseFactory) Create(context.Context, target.Identity) (any, error) {
	stock := make(map[string]int, len(f.seed))
	for k, v := range f.seed {
		stock[k] = v
	}
	return &warehouse{serial: f.created.Add(1), stock: stock}, nil
}

func (f *warehouseFactory) Destroy(context.Context, target.Identity, any) error {
	f.destroyed.Add(1)
	return nil
}
