// Package engine implements the transaction engine: the state machine
// driving one transaction attempt from Begin through two-phase commit
// or rollback, the retry/escalation trampoline that replaces the
// teacher's goto-based restart loop, and the process-wide
// irrevocability lock.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sharedcode/systx"
	"github.com/sharedcode/systx/journal"
	"github.com/sharedcode/systx/module"
	"github.com/sharedcode/systx/recovery"
	"github.com/sharedcode/systx/tm"
)

// irrevocableWeight is the semaphore's full weight: an ordinary
// (revocable) transaction acquires 1 of it, so any number may run
// concurrently; an escalating transaction acquires the full weight,
// guaranteeing it runs alone -- a process-wide reader/writer lock built
// on the one weighted semaphore primitive available for this shape of
// mutual exclusion.
const irrevocableWeight int64 = 1 << 20

// ModuleConstructor builds a fresh module.Descriptor bound to tx's
// private state, for one registered collaborator. Engine invokes every
// registered constructor, in registration order, at the start of each
// transaction attempt, so lock-acquisition order is identical across
// every carrier goroutine.
type ModuleConstructor func(tx *Transaction) module.Descriptor

// Engine is process-wide: one Space, one set of registered module
// constructors, one irrevocability lock, shared by every transaction.
type Engine struct {
	cfg   config
	space *tm.Space

	mu    sync.Mutex
	ctors []ModuleConstructor

	irrevocable *semaphore.Weighted
	dispatcher  *recovery.Dispatcher
}

// New constructs an Engine. Collaborators register their module
// constructors with RegisterModule before any transaction begins.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	space, err := tm.NewSpace(cfg.blockSize)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	d := recovery.New()
	d.BaseDelay = cfg.retryBaseDelay
	return &Engine{
		cfg:         cfg,
		space:       space,
		irrevocable: semaphore.NewWeighted(irrevocableWeight),
		dispatcher:  d,
	}, nil
}

// RegisterModule adds a collaborator's module constructor and returns
// its slot ID. Every transaction's registry contains one descriptor per
// registered constructor, built fresh for that attempt.
func (e *Engine) RegisterModule(ctor ModuleConstructor) module.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := module.ID(len(e.ctors))
	e.ctors = append(e.ctors, ctor)
	return id
}

func (e *Engine) logger() *slog.Logger {
	return e.cfg.logger
}

// Space exposes the underlying transactional memory substrate, for
// callers that need direct tm-level access (e.g. tests).
func (e *Engine) Space() *tm.Space {
	return e.space
}

// buildRegistry constructs a fresh module registry for tx, invoking
// every registered constructor in order.
func (e *Engine) buildRegistry(tx *Transaction) (*module.Registry, error) {
	e.mu.Lock()
	ctors := make([]ModuleConstructor, len(e.ctors))
	copy(ctors, e.ctors)
	e.mu.Unlock()

	r := module.New()
	for _, ctor := range ctors {
		if _, err := r.Register(ctor(tx)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Run executes body inside a new transaction, retrying on conflict,
// escalating to irrevocable mode after cfg.maxAttempts conflicting
// attempts, and surfacing any non-recoverable error. It is the
// trampoline that replaces a setjmp/longjmp restart loop with an
// ordinary Go for-loop around an explicit result.
func (e *Engine) Run(ctx context.Context, body func(ctx context.Context, tx *Transaction) error) error {
	var attempt int
	irrevocable := false
	tracker := recovery.NewTracker()

	for {
		if irrevocable {
			if err := e.irrevocable.Acquire(ctx, irrevocableWeight); err != nil {
				return fmt.Errorf("engine: acquire irrevocability lock: %w", err)
			}
		} else if err := e.irrevocable.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("engine: acquire transaction slot: %w", err)
		}

		tx, err := e.begin(irrevocable)
		if err != nil {
			e.release(irrevocable)
			return err
		}

		bodyErr := body(withTx(ctx, tx), tx)
		verdict, final := e.conclude(ctx, tx, bodyErr, tracker)
		e.release(irrevocable)

		if final {
			return verdict.err
		}
		switch verdict.action {
		case actionRetry:
			attempt++
			if attempt >= e.cfg.maxAttempts {
				e.logger().Warn("escalating to irrevocable mode", "attempts", attempt)
				irrevocable = true
			}
			continue
		case actionEscalate:
			e.logger().Debug("transaction requested irrevocable retry")
			irrevocable = true
			continue
		}
	}
}

func (e *Engine) release(irrevocable bool) {
	if irrevocable {
		e.irrevocable.Release(irrevocableWeight)
		return
	}
	e.irrevocable.Release(1)
}

// Begin starts a single transaction attempt directly, without the
// retry/escalation trampoline: the caller takes on responsibility for
// calling Commit or Rollback and, on conflict, retrying itself. Run is
// the recommended entry point for ordinary use; Begin exists for
// callers that need to interleave their own (e.g. foreign-database)
// two-phase commit around this one.
func (e *Engine) Begin() (*Transaction, error) {
	if err := e.irrevocable.Acquire(context.Background(), 1); err != nil {
		return nil, fmt.Errorf("engine: acquire transaction slot: %w", err)
	}
	tx, err := e.begin(false)
	if err != nil {
		e.irrevocable.Release(1)
		return nil, err
	}
	tx.ownsSlot = true
	return tx, nil
}

func (e *Engine) begin(irrevocable bool) (*Transaction, error) {
	tx := &Transaction{
		id:         systx.NewUUID(),
		engine:     e,
		tmtx:       tm.NewTx(e.space),
		journal:    journal.New(),
		noundo:     irrevocable,
		state:      StateIdle,
		mode:       modeRevocableOf(irrevocable),
	}
	reg, err := e.buildRegistry(tx)
	if err != nil {
		return nil, err
	}
	tx.registry = reg
	tx.state = StateRunning
	return tx, nil
}

func modeRevocableOf(irrevocable bool) Mode {
	if irrevocable {
		return ModeIrrevocable
	}
	return ModeRevocable
}

// Mode is a transaction's revocability.
type Mode int

const (
	// ModeRevocable is the default: conflicts roll back and restart.
	ModeRevocable Mode = iota
	// ModeIrrevocable runs alone under the process-wide lock; its
	// modules skip undo bookkeeping (noundo) since nothing can conflict
	// with it, and it is not allowed to fail with a conflict.
	ModeIrrevocable
)

type actionKind int

const (
	actionNone actionKind = iota
	actionRetry
	actionEscalate
)

type verdict struct {
	action actionKind
	err    error
}

// conclude runs the commit-or-rollback leg for one attempt and decides
// what Run should do next. final=true means Run must return verdict.err
// immediately (success, or a non-recoverable failure).
func (e *Engine) conclude(ctx context.Context, tx *Transaction, bodyErr error, tracker *recovery.Tracker) (verdict, bool) {
	if serr, ok := bodyErr.(*systx.Error); ok && serr == nil {
		// A body returning a nil *systx.Error (e.g. straight from Store)
		// succeeded.
		bodyErr = nil
	}
	if bodyErr != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			return verdict{err: rbErr}, true
		}
		if rs, ok := bodyErr.(restartSignal); ok {
			if rs.escalate {
				return verdict{action: actionEscalate}, false
			}
			return verdict{action: actionRetry}, false
		}
		serr, ok := bodyErr.(*systx.Error)
		if !ok {
			return verdict{err: bodyErr}, true
		}
		return e.classify(ctx, tx, serr, tracker)
	}

	if err := tx.commit(ctx); err != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			return verdict{err: rbErr}, true
		}
		serr, ok := err.(*systx.Error)
		if !ok {
			return verdict{err: err}, true
		}
		return e.classify(ctx, tx, serr, tracker)
	}
	return verdict{}, true
}

func (e *Engine) classify(ctx context.Context, tx *Transaction, serr *systx.Error, tracker *recovery.Tracker) (verdict, bool) {
	if tx.mode == ModeIrrevocable {
		// An irrevocable attempt runs alone; it cannot hit a genuine
		// conflict, so any error here is surfaced rather than retried.
		return verdict{err: serr}, true
	}
	switch e.dispatcher.Classify(ctx, serr, tracker) {
	case recovery.VerdictRetry:
		return verdict{action: actionRetry}, false
	case recovery.VerdictEscalate:
		return verdict{action: actionEscalate}, false
	default:
		return verdict{err: serr}, true
	}
}
