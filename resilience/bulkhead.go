package resilience

import (
	"context"
	"errors"
	"time"
)

// Bulkhead errors.
var (
	ErrBulkheadFull    = errors.New("bulkhead is full")
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// WaitPolicy decides what Acquire does when every slot is taken.
type WaitPolicy int

const (
	// WaitNone fails immediately with ErrBulkheadFull.
	WaitNone WaitPolicy = iota
	// WaitBounded waits up to MaxWait, then fails with ErrBulkheadTimeout.
	WaitBounded
	// WaitBlock waits until a slot frees up or the context ends.
	WaitBlock
)

// String returns the policy name.
func (p WaitPolicy) String() string {
	switch p {
	case WaitNone:
		return "none"
	case WaitBounded:
		return "bounded"
	case WaitBlock:
		return "block"
	default:
		return "unknown"
	}
}

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead in logs and metrics.
	Name string
	// MaxConcurrent is the number of slots.
	MaxConcurrent int
	// Wait selects the exhaustion behavior.
	Wait WaitPolicy
	// MaxWait bounds WaitBounded. A non-positive value degrades to WaitNone.
	MaxWait time.Duration
	// OnReject is called when an acquire fails.
	OnReject func(name string, err error)
}

// Bulkhead is a counting semaphore over a fixed number of slots.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}
}

// NewBulkhead creates a bulkhead. MaxConcurrent below one is raised to one.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if config.Wait == WaitBounded && config.MaxWait <= 0 {
		config.Wait = WaitNone
	}
	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// TryAcquire takes a slot if one is free.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire takes a slot according to the configured wait policy.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.TryAcquire() {
		return nil
	}
	err := b.wait(ctx)
	if err != nil && b.config.OnReject != nil {
		b.config.OnReject(b.config.Name, err)
	}
	return err
}

func (b *Bulkhead) wait(ctx context.Context) error {
	switch b.config.Wait {
	case WaitBlock:
		select {
		case b.sem <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case WaitBounded:
		timer := time.NewTimer(b.config.MaxWait)
		defer timer.Stop()
		select {
		case b.sem <- struct{}{}:
			return nil
		case <-timer.C:
			return ErrBulkheadTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return ErrBulkheadFull
	}
}

// Release frees a slot. Releasing more slots than were acquired panics.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
	default:
		panic("resilience: bulkhead " + b.config.Name + " released without acquire")
	}
}

// Execute runs fn while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn()
}

// InUse returns the number of held slots.
func (b *Bulkhead) InUse() int { return len(b.sem) }

// Available returns the number of free slots.
func (b *Bulkhead) Available() int { return cap(b.sem) - len(b.sem) }

// MaxConcurrent returns the slot count.
func (b *Bulkhead) MaxConcurrent() int { return cap(b.sem) }

// Policy returns the effective wait policy.
func (b *Bulkhead) Policy() WaitPolicy { return b.config.Wait }
