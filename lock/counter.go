package lock

// wroteBit marks, in the top bit of the counter, that this transaction
// has taken write mode on the lock at least once. The remaining bits
// count how many times the transaction has (re-)acquired the lock.
const wroteBit uint32 = 1 << 31

// RWCounter is a per-transaction wrapper around an RWLock. It tracks
// how many times *this* transaction has acquired the underlying lock so
// that repeated acquisition inside one transaction is a no-op past the
// first call, and only the matching last release touches the shared
// RWLock.
type RWCounter struct {
	lock  *RWLock
	count uint32 // low 31 bits = acquire count, top bit = "ever wrote"
}

// NewRWCounter wraps the given shared lock for use by one transaction.
func NewRWCounter(l *RWLock) *RWCounter {
	return &RWCounter{lock: l}
}

// acquires returns how many times this transaction has acquired.
func (c *RWCounter) acquires() uint32 {
	return c.count &^ wroteBit
}

// WroteEver reports whether this transaction ever took write mode.
func (c *RWCounter) WroteEver() bool {
	return c.count&wroteBit != 0
}

// RLock acquires a read grant, entering the shared lock only on the
// first acquisition by this transaction.
func (c *RWCounter) RLock() bool {
	if c.acquires() > 0 {
		c.count++
		return true
	}
	if !c.lock.TryRLock() {
		return false
	}
	c.count++
	return true
}

// WLock acquires a write grant. If this transaction already holds a
// read grant (RLock takes at most one shared grant per transaction), it
// upgrades that grant in place, which succeeds only while no other
// transaction also holds a read grant; otherwise it takes a fresh write
// grant.
func (c *RWCounter) WLock() bool {
	if c.WroteEver() {
		c.count++
		return true
	}
	upgrade := c.acquires() > 0
	if !c.lock.TryWLock(upgrade) {
		return false
	}
	c.count++
	c.count |= wroteBit
	return true
}

// Release drops one acquisition, releasing the shared lock only when
// this was the transaction's last outstanding acquisition.
func (c *RWCounter) Release() {
	n := c.acquires()
	if n == 0 {
		return
	}
	n--
	if n == 0 {
		c.lock.Unlock()
		c.count = 0
		return
	}
	c.count = n | (c.count & wroteBit)
}
