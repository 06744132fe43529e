// Package module implements the per-transaction module registry: a
// fixed-size slot table of descriptors contributed by pluggable
// collaborators (memory, file IO, allocator, ...), and the forward/
// reverse walks the engine drives across them during two-phase commit,
// rollback, and finish.
package module

import (
	"context"
	"fmt"
)

// ID identifies a registered module, its slot index in the Registry.
type ID uint16

// slotCount bounds the number of modules one transaction may register:
// a dense, fixed upper bound.
const slotCount = 16

// Descriptor is a module's complete contract with the engine. Any field
// may be nil; the engine treats a nil field as a no-op rather than
// branching on a capability flag, making "callback absent" an ordinary
// case of the dispatch rather than a special one.
type Descriptor struct {
	Lock     func(ctx context.Context, data any) error
	Unlock   func(ctx context.Context, data any) error
	Validate func(ctx context.Context, data any, eotx bool) error
	UpdateCC func(ctx context.Context, data any, noundo bool) error
	ClearCC  func(ctx context.Context, data any, noundo bool) error
	Finish   func(ctx context.Context, data any) error
	Release  func(ctx context.Context, data any) error

	TPCRequest func(ctx context.Context, data any) error
	TPCSuccess func(ctx context.Context, data any) error
	TPCNoUndo  func(ctx context.Context, data any) error
	TPCFailure func(ctx context.Context, data any) error

	Data any
}

// Registry holds the modules registered for one transaction.
type Registry struct {
	slots [slotCount]*Descriptor
	n     int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register binds a descriptor to the next free slot and returns its ID.
func (r *Registry) Register(d Descriptor) (ID, error) {
	if r.n >= slotCount {
		return 0, fmt.Errorf("module: registry full, at most %d modules per transaction", slotCount)
	}
	id := ID(r.n)
	cp := d
	r.slots[id] = &cp
	r.n++
	return id, nil
}

// Get returns the descriptor for id, or nil if unregistered.
func (r *Registry) Get(id ID) *Descriptor {
	if int(id) >= r.n {
		return nil
	}
	return r.slots[id]
}

// Reset drops all registrations, for reuse across unrelated threads
// (registries are never shared between concurrently running
// transactions; this is only used by pooled carrier goroutines).
func (r *Registry) Reset() {
	for i := 0; i < r.n; i++ {
		r.slots[i] = nil
	}
	r.n = 0
}

// forEach walks registered modules in the given order, invoking fn for
// each non-nil descriptor. Order forward (ascending ID) is used for
// lock acquisition so that, given every carrier thread registers its
// modules in the same order, acquisition order is consistent across
// threads and deadlock-free; order reverse (descending ID) is used for
// unlock, undo, and finish.
func (r *Registry) forEach(forward bool, fn func(id ID, d *Descriptor) error) error {
	if forward {
		for i := 0; i < r.n; i++ {
			if err := fn(ID(i), r.slots[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for i := r.n - 1; i >= 0; i-- {
		if err := fn(ID(i), r.slots[i]); err != nil {
			return err
		}
	}
	return nil
}

// ForEachLock calls every module's Lock hook, forward order.
func (r *Registry) ForEachLock(ctx context.Context) error {
	return r.forEach(true, func(_ ID, d *Descriptor) error {
		if d.Lock == nil {
			return nil
		}
		return d.Lock(ctx, d.Data)
	})
}

// ForEachUnlock calls every module's Unlock hook, reverse order.
func (r *Registry) ForEachUnlock(ctx context.Context) error {
	return r.forEach(false, func(_ ID, d *Descriptor) error {
		if d.Unlock == nil {
			return nil
		}
		return d.Unlock(ctx, d.Data)
	})
}

// ForEachValidate calls every module's Validate hook, forward order.
func (r *Registry) ForEachValidate(ctx context.Context, eotx bool) error {
	return r.forEach(true, func(_ ID, d *Descriptor) error {
		if d.Validate == nil {
			return nil
		}
		return d.Validate(ctx, d.Data, eotx)
	})
}

// ForEachFinish calls every module's Finish hook, reverse order.
func (r *Registry) ForEachFinish(ctx context.Context) error {
	return r.forEach(false, func(_ ID, d *Descriptor) error {
		if d.Finish == nil {
			return nil
		}
		return d.Finish(ctx, d.Data)
	})
}

// ForEachRelease calls every module's Release hook, reverse order.
func (r *Registry) ForEachRelease(ctx context.Context) error {
	return r.forEach(false, func(_ ID, d *Descriptor) error {
		if d.Release == nil {
			return nil
		}
		return d.Release(ctx, d.Data)
	})
}

// ForEachUpdateCC calls every module's UpdateCC hook, forward order.
func (r *Registry) ForEachUpdateCC(ctx context.Context, noundo bool) error {
	return r.forEach(true, func(_ ID, d *Descriptor) error {
		if d.UpdateCC == nil {
			return nil
		}
		return d.UpdateCC(ctx, d.Data, noundo)
	})
}

// ForEachClearCC calls every module's ClearCC hook, reverse order.
func (r *Registry) ForEachClearCC(ctx context.Context, noundo bool) error {
	return r.forEach(false, func(_ ID, d *Descriptor) error {
		if d.ClearCC == nil {
			return nil
		}
		return d.ClearCC(ctx, d.Data, noundo)
	})
}

// TwoPhaseCommit sequences the 2PC pipeline across every module:
// TPCRequest, then in-order Validate(eotx=true), then TPCSuccess on
// success or TPCNoUndo when escalating to irrevocable.
func (r *Registry) TwoPhaseCommit(ctx context.Context, noundo bool) error {
	if err := r.forEach(true, func(_ ID, d *Descriptor) error {
		if d.TPCRequest == nil {
			return nil
		}
		return d.TPCRequest(ctx, d.Data)
	}); err != nil {
		r.tpcFailure(ctx)
		return err
	}

	if err := r.ForEachValidate(ctx, true); err != nil {
		r.tpcFailure(ctx)
		return err
	}

	if noundo {
		return r.forEach(true, func(_ ID, d *Descriptor) error {
			if d.TPCNoUndo == nil {
				return nil
			}
			return d.TPCNoUndo(ctx, d.Data)
		})
	}
	return r.forEach(true, func(_ ID, d *Descriptor) error {
		if d.TPCSuccess == nil {
			return nil
		}
		return d.TPCSuccess(ctx, d.Data)
	})
}

func (r *Registry) tpcFailure(ctx context.Context) {
	_ = r.forEach(false, func(_ ID, d *Descriptor) error {
		if d.TPCFailure != nil {
			_ = d.TPCFailure(ctx, d.Data)
		}
		return nil
	})
}
