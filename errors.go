package systx

import (
	"fmt"
	"syscall"
)

// Status tags an Error with the kind of fault a module reported.
type Status int

const (
	// StatusUnset is the zero value: no error.
	StatusUnset Status = iota
	// StatusConflicting means a concurrent transaction holds an
	// incompatible lock. Default policy: silently roll back and restart.
	StatusConflicting
	// StatusRevocable means the current attempt hit an operation that
	// can only be done irrevocably. Default policy: roll back, restart
	// in irrevocable mode.
	StatusRevocable
	// StatusErrno wraps a POSIX errno value from a libc-like operation.
	StatusErrno
	// StatusErrorCode wraps an internal enumerated error.
	StatusErrorCode
	// StatusKernReturn wraps a platform-specific kernel error code.
	StatusKernReturn
	// StatusSigInfo records a signal delivered to this goroutine's
	// carrier thread during the transaction.
	StatusSigInfo
)

func (s Status) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusConflicting:
		return "conflicting"
	case StatusRevocable:
		return "revocable"
	case StatusErrno:
		return "errno"
	case StatusErrorCode:
		return "error_code"
	case StatusKernReturn:
		return "kern_return"
	case StatusSigInfo:
		return "siginfo"
	default:
		return "unknown"
	}
}

// ErrorCode enumerates the internal (non-errno) failure codes a module
// may report via StatusErrorCode.
type ErrorCode int

const (
	// ErrGeneral is a catch-all internal failure.
	ErrGeneral ErrorCode = iota
	// ErrInvalidFenv reports a floating-point environment a module
	// could not save/restore across the transaction.
	ErrInvalidFenv
	// ErrNoSuchLock reports a conflict against a lock this transaction
	// no longer recognizes.
	ErrNoSuchLock
)

// Error is the tagged error value exchanged between modules and the
// recovery dispatcher. Exactly one payload field is meaningful,
// selected by Status; constructors below set Status and clear the rest.
type Error struct {
	Status Status
	// NonRecoverable, when true, means the dispatcher must surface this
	// error to the user rather than attempt retry or escalation.
	NonRecoverable bool
	Description    string

	Errno     syscall.Errno
	Code      ErrorCode
	KernValue int32
	Signal    string

	// Lock identifies the contended lock for StatusConflicting, when
	// known; nil means "some lock, identity not tracked by the caller".
	Lock any
	// Cause is the underlying error, if any, for unwrapping.
	Cause error
}

func (e *Error) Error() string {
	desc := e.Description
	if desc == "" {
		desc = e.Status.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("systx: %s: %v", desc, e.Cause)
	}
	return fmt.Sprintf("systx: %s", desc)
}

// Unwrap exposes Cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConflict builds a StatusConflicting error for the given contended
// lock (nil if the caller doesn't track lock identity).
func NewConflict(lock any) *Error {
	return &Error{Status: StatusConflicting, Lock: lock}
}

// NewRevocable builds a StatusRevocable error: the current attempt must
// be redone irrevocably.
func NewRevocable(description string) *Error {
	return &Error{Status: StatusRevocable, Description: description}
}

// NewErrno builds a StatusErrno error wrapping errno.
func NewErrno(errno syscall.Errno) *Error {
	return &Error{Status: StatusErrno, Errno: errno, Cause: errno}
}

// NewErrorCode builds a StatusErrorCode error, marked non-recoverable:
// internal error codes are always surfaced to the user, never retried.
func NewErrorCode(code ErrorCode, description string) *Error {
	return &Error{Status: StatusErrorCode, Code: code, Description: description, NonRecoverable: true}
}

// NewKernReturn builds a StatusKernReturn error, always surfaced.
func NewKernReturn(value int32, description string) *Error {
	return &Error{Status: StatusKernReturn, KernValue: value, Description: description, NonRecoverable: true}
}

// NewSigInfo builds a StatusSigInfo error. recoverable must be true for
// the dispatcher to attempt anything other than surfacing it, since
// spec policy defaults signals to non-recoverable unless a module
// explicitly flags otherwise.
func NewSigInfo(signal string, recoverable bool) *Error {
	return &Error{Status: StatusSigInfo, Signal: signal, Description: signal, NonRecoverable: !recoverable}
}
