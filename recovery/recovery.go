// Package recovery implements the error-recovery dispatcher: the
// module-to-engine edge that classifies a reported fault as a conflict
// to retry silently, a recoverable environmental error to retry with
// backoff, or a hard failure to surface to the user.
package recovery

import (
	"context"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/systx"
)

// Verdict is the dispatcher's decision for one reported error.
type Verdict int

const (
	// VerdictRetry means roll back and re-execute the transaction body
	// immediately (same mode).
	VerdictRetry Verdict = iota
	// VerdictEscalate means roll back and re-execute irrevocably.
	VerdictEscalate
	// VerdictSurface means rethrow the error to the user.
	VerdictSurface
)

// Strategy selects how the dispatcher treats ErrorCode/KernReturn
// faults. AUTO applies the default policy table as-is; FULL additionally
// retries ErrorCode/KernReturn faults whose NonRecoverable flag is
// false. Errors built by systx.NewErrorCode and systx.NewKernReturn are
// marked NonRecoverable, so they surface under either strategy.
type Strategy int

const (
	StrategyAuto Strategy = iota
	StrategyFull
)

// Dispatcher classifies systx.Error values into a Verdict, optionally
// running a bounded backoff for recoverable ERRNO faults before
// returning VerdictRetry.
type Dispatcher struct {
	Strategy  Strategy
	BaseDelay time.Duration
}

// New returns a Dispatcher using the AUTO strategy and a 10ms Fibonacci
// backoff base delay.
func New() *Dispatcher {
	return &Dispatcher{Strategy: StrategyAuto, BaseDelay: 10 * time.Millisecond}
}

// Tracker accumulates per-errno retry counts across the attempts of one
// logical transaction. A bare Dispatcher.Classify call can't tell a
// first ENOMEM sighting from a repeat on its own, since each attempt
// builds a fresh *systx.Error; callers that retry the same logical
// transaction across attempts (Engine.Run) hold one Tracker for the
// whole retry loop and pass it to every Classify call.
type Tracker struct {
	errnoRetries map[syscall.Errno]int
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{errnoRetries: make(map[syscall.Errno]int)}
}

// Classify applies the default policy table to err and returns the
// verdict. tracker may be nil, in which case every ERRNO fault is
// classified as if it were the first sighting (correct for one-shot
// callers; Engine.Run supplies a Tracker so a repeat ENOMEM surfaces
// instead of retrying forever).
func (d *Dispatcher) Classify(ctx context.Context, err *systx.Error, tracker *Tracker) Verdict {
	if err == nil {
		return VerdictRetry
	}
	if err.NonRecoverable {
		return VerdictSurface
	}
	switch err.Status {
	case systx.StatusConflicting:
		return VerdictRetry
	case systx.StatusRevocable:
		return VerdictEscalate
	case systx.StatusErrno:
		return d.classifyErrno(ctx, err.Errno, tracker)
	case systx.StatusErrorCode, systx.StatusKernReturn:
		if d.Strategy == StrategyFull {
			return VerdictRetry
		}
		return VerdictSurface
	case systx.StatusSigInfo:
		return VerdictSurface
	default:
		return VerdictSurface
	}
}

// classifyErrno implements: EAGAIN/EINTR/EBUSY -> retry; ENOMEM -> retry
// once then surface; others -> surface.
func (d *Dispatcher) classifyErrno(ctx context.Context, errno syscall.Errno, tracker *Tracker) Verdict {
	base := d.BaseDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	switch errno {
	case syscall.EAGAIN, syscall.EINTR, syscall.EBUSY:
		_ = Backoff(ctx, base, 5, nil)
		return VerdictRetry
	case syscall.ENOMEM:
		if tracker != nil && tracker.errnoRetries[errno] > 0 {
			return VerdictSurface
		}
		if tracker != nil {
			tracker.errnoRetries[errno]++
		}
		_ = Backoff(ctx, base, 1, nil)
		return VerdictRetry
	default:
		return VerdictSurface
	}
}

// Backoff waits through up to maxRetries Fibonacci-backoff steps
// starting at base, invoking onAttempt (if non-nil) once per attempt,
// and returns ctx's error if ctx ends first. It exists so the
// recoverable-ERRNO paths above share one real backoff primitive rather
// than hand-rolled sleeps.
func Backoff(ctx context.Context, base time.Duration, maxRetries uint64, onAttempt func()) error {
	b := retry.NewFibonacci(base)
	b = retry.WithMaxRetries(maxRetries, b)
	for {
		if onAttempt != nil {
			onAttempt()
		}
		next, stop := b.Next()
		if stop {
			return nil
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
