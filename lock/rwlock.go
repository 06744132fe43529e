// Package lock implements the frame-granularity read/write lock used by
// the transactional memory substrate. The lock never blocks: a caller
// that cannot acquire immediately gets false back and decides for
// itself whether to retry, roll back, or escalate.
package lock

import (
	"sync/atomic"
)

// writeLocked is the sentinel counter value meaning "held for write".
// Values in [1, maxReaders] mean "held for read by that many readers".
const (
	unlocked    uint32 = 0
	writeLocked uint32 = ^uint32(0)
	// maxReaders bounds the reader count so it can never collide with
	// writeLocked, and so a runaway caller can't wrap the counter.
	maxReaders uint32 = writeLocked - 1
)

// RWLock is a non-blocking counting read/write lock with writer
// upgrade. The zero value is an unlocked lock.
type RWLock struct {
	n atomic.Uint32
}

// TryRLock attempts to acquire a read grant. It reports false (no
// error, just "didn't get it") when the lock is write-locked or the
// reader count is already at its maximum.
func (l *RWLock) TryRLock() bool {
	for {
		n := l.n.Load()
		if n == writeLocked || n >= maxReaders {
			return false
		}
		if l.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// TryWLock attempts to acquire a write grant. When upgrade is true the
// caller already holds the lock's sole read grant and is asking to
// promote it in place (1 -> writeLocked); otherwise it is asking for a
// fresh write grant (0 -> writeLocked).
func (l *RWLock) TryWLock(upgrade bool) bool {
	var from uint32 = unlocked
	if upgrade {
		from = 1
	}
	return l.n.CompareAndSwap(from, writeLocked)
}

// Unlock releases one grant: the sole write grant, or one of
// potentially several read grants.
func (l *RWLock) Unlock() {
	for {
		n := l.n.Load()
		if n == writeLocked {
			l.n.Store(unlocked)
			return
		}
		if n == unlocked {
			// Unlocking an already-unlocked lock is a caller bug; the
			// substrate never calls Unlock without a matching grant.
			return
		}
		if l.n.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// State reports the raw counter, for tests and diagnostics only.
func (l *RWLock) State() (readers uint32, writeHeld bool) {
	n := l.n.Load()
	if n == writeLocked {
		return 0, true
	}
	return n, false
}
