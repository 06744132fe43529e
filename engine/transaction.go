package engine

import (
	"context"
	"fmt"
	"syscall"

	"github.com/sharedcode/systx"
	"github.com/sharedcode/systx/journal"
	"github.com/sharedcode/systx/module"
	"github.com/sharedcode/systx/tm"
)

// Applier is implemented by a module's Data when that module has
// journal events to apply forward on commit. A module with nothing to
// replay (its effects live entirely in the tm substrate, say) simply
// doesn't implement it; tx.applyEvent treats that as a no-op, the same
// "capability absent, not special-cased" convention as Descriptor's nil
// function fields.
type Applier interface {
	Apply(events []journal.Event, start, end int, noundo bool) error
}

// Undoer is implemented by a module's Data when it needs to unwind
// journal events on rollback.
type Undoer interface {
	Undo(ev journal.Event, noundo bool) error
}

// Transaction is one attempt at running a transaction body: an
// explicit, goroutine-owned object rather than hidden thread-local
// state. Callers reach one either directly (engine.Run passes it to the
// body function) or through the context-based facade functions.
type Transaction struct {
	id     systx.UUID
	engine *Engine
	mode   Mode
	noundo bool
	state  State

	// ownsSlot is true when this Transaction acquired its own
	// irrevocability-semaphore slot via Engine.Begin, so finish must
	// release it; Run-managed transactions release through Run's own
	// release call instead, since Run also needs the slot held across the
	// classify step that happens after commit/rollback returns.
	ownsSlot bool

	tmtx     *tm.Tx
	journal  *journal.Journal
	registry *module.Registry

	hasSavedErrno bool
	savedErrno    syscall.Errno
}

// ID returns the transaction's identity.
func (tx *Transaction) ID() systx.UUID { return tx.id }

// State reports the transaction's current position in the state machine.
func (tx *Transaction) State() State { return tx.state }

// Mode reports whether this attempt is running revocably or
// irrevocably.
func (tx *Transaction) Mode() Mode { return tx.mode }

// Load reads n bytes starting at addr into dst.
func (tx *Transaction) Load(addr uint64, dst []byte, n uint64) *systx.Error {
	return tx.tmtx.Load(addr, dst, n)
}

// Store writes n bytes from src starting at addr.
func (tx *Transaction) Store(addr uint64, src []byte, n uint64) *systx.Error {
	return tx.tmtx.Store(addr, src, n)
}

// LoadStore copies n bytes from laddr to saddr.
func (tx *Transaction) LoadStore(laddr, saddr uint64, n uint64) *systx.Error {
	return tx.tmtx.LoadStore(laddr, saddr, n)
}

// Privatize exposes [addr, addr+n) for direct access for the rest of
// the transaction; see tm.Tx.Privatize.
func (tx *Transaction) Privatize(addr, n uint64, flags tm.PrivatizeFlag) ([]byte, *systx.Error) {
	return tx.tmtx.Privatize(addr, n, flags)
}

// PrivatizeC is like Privatize but bounded by a C-string terminator.
func (tx *Transaction) PrivatizeC(addr uint64, terminator byte, maxScan uint64, flags tm.PrivatizeFlag) ([]byte, *systx.Error) {
	return tx.tmtx.PrivatizeC(addr, terminator, maxScan, flags)
}

// Module returns the descriptor data this transaction's attempt holds
// for the collaborator registered under id, or nil if id is
// out-of-range. Callers type-assert to their own concrete Data type.
func (tx *Transaction) Module(id module.ID) any {
	d := tx.registry.Get(id)
	if d == nil {
		return nil
	}
	return d.Data
}

// InjectEvent records a journal event for module id, returning its
// index for later reference (e.g. logging, debugging dumps).
func (tx *Transaction) InjectEvent(id module.ID, call uint16, cookie uint32) int {
	return tx.journal.Inject(journal.ModuleID(id), call, cookie)
}

// NoUndo reports whether this attempt runs without undo bookkeeping
// (true exactly when Mode is ModeIrrevocable).
func (tx *Transaction) NoUndo() bool { return tx.noundo }

// SaveErrno snapshots errno for later retrieval via SavedErrno, e.g. by
// a module's Undo hook restoring it on rollback. Only the first call
// within an attempt takes effect, matching a one-shot snapshot taken at
// transaction entry rather than a value overwritten on every call.
func (tx *Transaction) SaveErrno(errno syscall.Errno) {
	if tx.hasSavedErrno {
		return
	}
	tx.savedErrno = errno
	tx.hasSavedErrno = true
}

// SavedErrno returns the value recorded by the first SaveErrno call of
// this attempt, and whether one was ever saved.
func (tx *Transaction) SavedErrno() (syscall.Errno, bool) {
	return tx.savedErrno, tx.hasSavedErrno
}

// Commit drives Phase1Commit then Phase2Commit, the full forward path.
// Most callers should use Engine.Run instead, which wraps Commit with
// the retry/escalation trampoline; Commit is exposed directly for
// callers integrating their own retry loop around a foreign
// transaction, keeping the infrastructure-facing two-phase object
// separate from the wrapper that drives it.
func (tx *Transaction) Commit(ctx context.Context) error {
	return tx.commit(ctx)
}

func (tx *Transaction) commit(ctx context.Context) error {
	if err := tx.Phase1Commit(ctx); err != nil {
		return err
	}
	return tx.Phase2Commit(ctx)
}

// Phase1Commit acquires any module-specific locks beyond the frame
// locks already held from Load/Store, then validates every module
// (including the tm substrate, a no-op validator here since it
// serializes as it executes rather than at end-of-transaction).
func (tx *Transaction) Phase1Commit(ctx context.Context) error {
	tx.state = StateCommitting
	if err := tx.registry.ForEachLock(ctx); err != nil {
		return err
	}
	if err := tx.tmtx.Validate(true); err != nil {
		return err
	}
	return tx.registry.ForEachValidate(ctx, true)
}

// Phase2Commit applies the journal forward and runs the module 2PC
// sequence -- every step still able to fail and fall back to Rollback
// -- before committing the tm substrate, an infallible step reserved
// for last so a failure anywhere above still leaves the substrate in
// its pre-commit state for Rollback to undo.
func (tx *Transaction) Phase2Commit(ctx context.Context) error {
	if err := tx.journal.ApplyAll(tx.noundo, tx.applyEvent, tx.onApplyFailure); err != nil {
		return err
	}
	if err := tx.registry.TwoPhaseCommit(ctx, tx.noundo); err != nil {
		return err
	}
	if err := tx.registry.ForEachUpdateCC(ctx, tx.noundo); err != nil {
		return err
	}

	tx.tmtx.Commit()

	_ = tx.registry.ForEachFinish(ctx)
	_ = tx.registry.ForEachRelease(ctx)
	_ = tx.registry.ForEachUnlock(ctx)
	tx.state = StateCommitted
	tx.finish()
	return nil
}

// Rollback undoes the journal in reverse, reverts the tm substrate's
// write-through pages, clears module conflict-detection state, then
// finishes and releases everything this attempt acquired.
func (tx *Transaction) Rollback(ctx context.Context) error {
	return tx.rollback(ctx)
}

func (tx *Transaction) rollback(ctx context.Context) error {
	tx.state = StateRollingBack
	undoErr := tx.journal.UndoAll(tx.noundo, tx.undoEvent)
	tx.tmtx.Rollback()
	_ = tx.registry.ForEachClearCC(ctx, tx.noundo)
	_ = tx.registry.ForEachFinish(ctx)
	_ = tx.registry.ForEachRelease(ctx)
	_ = tx.registry.ForEachUnlock(ctx)
	tx.state = StateRolledBack
	tx.finish()
	if undoErr != nil {
		return fmt.Errorf("engine: transaction %s: %w", tx.id, undoErr)
	}
	return nil
}

func (tx *Transaction) finish() {
	tx.tmtx.Reset()
	tx.state = StateFinished
	if tx.ownsSlot {
		tx.engine.release(tx.mode == ModeIrrevocable)
		tx.ownsSlot = false
	}
}

func (tx *Transaction) applyEvent(events []journal.Event, start, end int, noundo bool) error {
	mid := events[start].ModuleID
	d := tx.registry.Get(module.ID(mid))
	if d == nil || d.Data == nil {
		return nil
	}
	a, ok := d.Data.(Applier)
	if !ok {
		return nil
	}
	return a.Apply(events, start, end, noundo)
}

func (tx *Transaction) undoEvent(ev journal.Event, noundo bool) error {
	d := tx.registry.Get(module.ID(ev.ModuleID))
	if d == nil || d.Data == nil {
		return nil
	}
	u, ok := d.Data.(Undoer)
	if !ok {
		return nil
	}
	return u.Undo(ev, noundo)
}

// onApplyFailure never retries or skips automatically: journal apply
// failures abort the commit and fall back to rollback, same as any
// other module error. A module wanting finer control implements that
// logic inside its own Apply method instead.
func (tx *Transaction) onApplyFailure(err error) journal.RetryVerdict {
	return journal.VerdictAbort
}
