package tm

// Validate is a no-op: this substrate acquires locks as it executes, so
// reaching the commit point without a conflict already implies
// consistency. It exists only for API symmetry with modules that
// implement optimistic protocols and do need to validate at end-of-
// transaction.
func (t *Tx) Validate(eotx bool) error {
	return nil
}

// Commit applies every written, non-write-through page back to its
// frame, then releases every frame this transaction touched.
func (t *Tx) Commit() {
	for _, p := range t.pages {
		if p.written() && !p.writeThrough() {
			copy(p.frame.buf, p.buf)
		}
	}
	t.releaseAll()
}

// Rollback reverts every written, write-through page (whose frame
// bytes were mutated directly during the transaction) back to the
// pre-transaction snapshot captured in p.buf on first touch, then
// releases every frame.
func (t *Tx) Rollback() {
	for _, p := range t.pages {
		if p.written() && p.writeThrough() {
			copy(p.frame.buf, p.buf)
		}
	}
	t.releaseAll()
}

func (t *Tx) releaseAll() {
	for _, p := range t.pages {
		for i := 0; i < p.acquireOps; i++ {
			p.counter.Release()
		}
	}
}
