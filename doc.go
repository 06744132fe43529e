// Package systx implements a process-local system transaction manager:
// a software transactional memory substrate plus a pluggable side-effect
// journal, giving user code atomicity, consistency, and isolation (and
// durability where the underlying resource provides it) around
// arbitrary sequences of memory, libc-style, and file operations.
//
// A transaction body runs to completion or is rolled back and
// re-executed; repeated conflicts escalate the next attempt to an
// irrevocable mode that excludes every other transaction in the
// process.
//
// This package holds the value types shared across the module (errors,
// UUIDs, logging setup). The transaction API itself -- Begin, Commit,
// Load, Store, and the rest -- lives in the engine subpackage, which
// builds on tm, journal, module, lock, and treemap.
package systx
