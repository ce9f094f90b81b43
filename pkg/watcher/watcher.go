// Package watcher implements the tick-order registry the position engine
// consults during limit opens and closes: it remembers which account is
// resting at which tick and, once a swap reports that tick as crossed,
// calls back into the engine to convert the matching position to market.
package watcher

import (
	"context"
	"sync"

	"github.com/perpmesh/engine/pkg/tick"
)

// Converter is the callback the registry drives once a tracked tick is
// reported crossed. It is satisfied by *position.Engine.
type Converter interface {
	ConvertPosition(ctx context.Context, account string) (bool, error)
}

// RetryLogger records a failed convert callback for later replay.
type RetryLogger interface {
	LogFailure(operation, key string, err error)
}

// Registry is an in-memory, tick-keyed reference implementation of
// position.Watcher. The original's watcher/core split ran as separate
// canisters talking over inter-canister calls; since that transport is
// out of scope here, the registry runs in-process and the "call" is a
// direct method invocation guarded by its own mutex rather than the
// core's single-threaded loop.
type Registry struct {
	mu        sync.Mutex
	byTick    map[tick.Tick]map[string]struct{}
	converter Converter
	retry     RetryLogger
}

// NewRegistry returns an empty registry. The converter is wired in after
// construction via SetConverter, since the engine that implements it is
// itself constructed with a reference to this registry.
func NewRegistry(retry RetryLogger) *Registry {
	return &Registry{
		byTick: make(map[tick.Tick]map[string]struct{}),
		retry:  retry,
	}
}

// SetConverter wires the callback target. Must be called before
// ExecuteTicksOrders is ever invoked.
func (r *Registry) SetConverter(c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converter = c
}

// StoreTickOrder implements position.Watcher.
func (r *Registry) StoreTickOrder(ctx context.Context, t tick.Tick, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, ok := r.byTick[t]
	if !ok {
		accounts = make(map[string]struct{})
		r.byTick[t] = accounts
	}
	accounts[account] = struct{}{}
	return nil
}

// RemoveTickOrder implements position.Watcher.
func (r *Registry) RemoveTickOrder(ctx context.Context, t tick.Tick, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, ok := r.byTick[t]
	if !ok {
		return nil
	}
	delete(accounts, account)
	if len(accounts) == 0 {
		delete(r.byTick, t)
	}
	return nil
}

// ExecuteTicksOrders implements position.Watcher. For every crossed tick,
// every account still registered there gets converted from a limit-backed
// position to a market one; the tick's registration is consumed whether or
// not the conversion reports a fully resolved close, mirroring the
// original's try_close semantics where the tick's order is already gone by
// the time convert_position runs.
func (r *Registry) ExecuteTicksOrders(ctx context.Context, ticks []tick.Tick) error {
	r.mu.Lock()
	type pending struct {
		tick    tick.Tick
		account string
	}
	var work []pending
	for _, t := range ticks {
		for account := range r.byTick[t] {
			work = append(work, pending{tick: t, account: account})
		}
		delete(r.byTick, t)
	}
	converter := r.converter
	r.mu.Unlock()

	if converter == nil {
		return nil
	}

	for _, w := range work {
		if _, err := converter.ConvertPosition(ctx, w.account); err != nil && r.retry != nil {
			r.retry.LogFailure("convert_position", w.account, err)
		}
	}
	return nil
}
