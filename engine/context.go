package engine

import (
	"context"
	"log/slog"
	"syscall"

	"github.com/sharedcode/systx"
	"github.com/sharedcode/systx/journal"
	"github.com/sharedcode/systx/module"
	"github.com/sharedcode/systx/tm"
)

type txKey struct{}

func withTx(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction Run attached to ctx, and whether
// one was found. This is the facade's one concession to the source's
// thread-local current-transaction pointer: Go has no goroutine-local
// storage, so the closest faithful equivalent is a value carried on the
// context already threaded through the call, rather than reimplementing
// TLS by parsing goroutine stacks.
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*Transaction)
	return tx, ok
}

func mustFromContext(ctx context.Context) *Transaction {
	tx, ok := FromContext(ctx)
	if !ok {
		panic("engine: no transaction attached to context; call from inside Engine.Run's body")
	}
	return tx
}

// Load is the facade form of Transaction.Load, for callers inside an
// Engine.Run body who would rather not thread the *Transaction through
// their own call chain.
func Load(ctx context.Context, addr uint64, dst []byte, n uint64) *systx.Error {
	return mustFromContext(ctx).Load(addr, dst, n)
}

// Store is the facade form of Transaction.Store.
func Store(ctx context.Context, addr uint64, src []byte, n uint64) *systx.Error {
	return mustFromContext(ctx).Store(addr, src, n)
}

// LoadStore is the facade form of Transaction.LoadStore.
func LoadStore(ctx context.Context, laddr, saddr uint64, n uint64) *systx.Error {
	return mustFromContext(ctx).LoadStore(laddr, saddr, n)
}

// Privatize is the facade form of Transaction.Privatize.
func Privatize(ctx context.Context, addr, n uint64, flags tm.PrivatizeFlag) ([]byte, *systx.Error) {
	return mustFromContext(ctx).Privatize(addr, n, flags)
}

// PrivatizeC is the facade form of Transaction.PrivatizeC.
func PrivatizeC(ctx context.Context, addr uint64, terminator byte, maxScan uint64, flags tm.PrivatizeFlag) ([]byte, *systx.Error) {
	return mustFromContext(ctx).PrivatizeC(addr, terminator, maxScan, flags)
}

// InjectEvent is the facade form of Transaction.InjectEvent.
func InjectEvent(ctx context.Context, id module.ID, call uint16, cookie uint32) int {
	return mustFromContext(ctx).InjectEvent(id, call, cookie)
}

// SaveErrno is the facade form of Transaction.SaveErrno.
func SaveErrno(ctx context.Context, errno syscall.Errno) {
	mustFromContext(ctx).SaveErrno(errno)
}

// SavedErrno is the facade form of Transaction.SavedErrno.
func SavedErrno(ctx context.Context) (syscall.Errno, bool) {
	return mustFromContext(ctx).SavedErrno()
}

// TabResize is the facade form of journal.TabResize, exposed for module
// authors who keep their own growable side tables (a cookie- or
// undo-payload table, say) and want the same doubling-with-linear-
// fallback growth policy the journal itself uses internally.
func TabResize(oldN, newN, elemSize int) int {
	return journal.TabResize(oldN, newN, elemSize)
}

// RecoverFromError is the module->engine edge: the explicit, return-
// based analog of the source's recover_from_error/longjmp. A module
// calls it with the error it hit and returns the result up its own
// call stack; Engine.Run's classification logic (recovery.Dispatcher)
// decides whether that unwinds into a retry, an escalation, or a
// surfaced failure once the body function returns it.
func RecoverFromError(ctx context.Context, err *systx.Error) *systx.Error {
	if tx, ok := FromContext(ctx); ok {
		slog.Default().Debug("recover_from_error", "transaction", tx.ID().String(), "status", err.Status.String())
	}
	return err
}

// RecoverFromErrno wraps errno as a StatusErrno error and routes it
// through RecoverFromError.
func RecoverFromErrno(ctx context.Context, errno syscall.Errno) *systx.Error {
	return RecoverFromError(ctx, systx.NewErrno(errno))
}

// ResolveError wraps an internal error code as a StatusErrorCode error
// and routes it through RecoverFromError.
func ResolveError(ctx context.Context, code systx.ErrorCode, description string) *systx.Error {
	return RecoverFromError(ctx, systx.NewErrorCode(code, description))
}

// ResolveConflict wraps a contended lock as a StatusConflicting error
// and routes it through RecoverFromError.
func ResolveConflict(ctx context.Context, lock any) *systx.Error {
	return RecoverFromError(ctx, systx.NewConflict(lock))
}

// restartSignal is the explicit-call analog of the source's
// restart_tx(): a body function returns it to request an immediate
// rollback-and-retry (or, with escalate set, rollback-and-retry
// irrevocably) without going through the error-classification policy
// table at all.
type restartSignal struct{ escalate bool }

func (restartSignal) Error() string { return "engine: transaction restart requested" }

// Restart requests that Engine.Run roll back the current attempt and
// retry it from the top, bypassing conflict classification.
func Restart(ctx context.Context) error {
	return restartSignal{}
}

// RestartIrrevocable requests that Engine.Run roll back the current
// attempt and retry it irrevocably.
func RestartIrrevocable(ctx context.Context) error {
	return restartSignal{escalate: true}
}

// Release performs unconditional, best-effort teardown of the
// transaction attached to ctx, regardless of its current state --
// mirroring the source's "always safe to call on thread exit" release
// semantics. It does not return an error: errors from the module hooks
// here are discarded, since by definition there is nothing left to roll
// back onto.
func Release(ctx context.Context) {
	tx, ok := FromContext(ctx)
	if !ok {
		return
	}
	tx.tmtx.Rollback()
	_ = tx.registry.ForEachRelease(ctx)
	_ = tx.registry.ForEachUnlock(ctx)
	tx.finish()
}
