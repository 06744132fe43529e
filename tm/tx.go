package tm

import (
	"sort"

	"github.com/sharedcode/systx"
)

// Tx is one transaction's view onto a Space: its active pages (kept
// sorted by block index, both to detect deadlock via ordered
// acquisition and to make lookups a binary search) and a free-list of
// retired page structs for reuse by the next attempt.
type Tx struct {
	space    *Space
	pages    []*page // sorted by blockIndex
	freelist []*page
}

// NewTx begins a new transaction-local view onto space.
func NewTx(space *Space) *Tx {
	return &Tx{space: space}
}

// Reset releases this Tx's pages back to its free-list for reuse by the
// next attempt, without touching the underlying frames (the caller
// must have already committed or rolled back).
func (t *Tx) Reset() {
	for _, p := range t.pages {
		*p = page{}
		t.freelist = append(t.freelist, p)
	}
	t.pages = t.pages[:0]
}

// PageCount reports the number of active pages, for tests/diagnostics.
func (t *Tx) PageCount() int {
	return len(t.pages)
}

func (t *Tx) find(block uint64) (*page, int) {
	i := sort.Search(len(t.pages), func(i int) bool { return t.pages[i].blockIndex >= block })
	if i < len(t.pages) && t.pages[i].blockIndex == block {
		return t.pages[i], i
	}
	return nil, i
}

// allocPage pulls a retired page struct off the free-list, or allocates
// a fresh one, and binds it to frame/block.
func (t *Tx) allocPage(block uint64, frame *Frame) *page {
	blockSize := int(t.space.blockSize)
	if n := len(t.freelist); n > 0 {
		p := t.freelist[n-1]
		t.freelist = t.freelist[:n-1]
		p.blockIndex = block
		p.frame = frame
		p.counter = newRWCounter(frame)
		p.flags = 0
		p.acquireOps = 0
		if cap(p.buf) < blockSize {
			p.buf = make([]byte, blockSize)
		} else {
			p.buf = p.buf[:blockSize]
		}
		return p
	}
	return newPage(block, frame, t.space.blockSize)
}

func (t *Tx) insert(at int, p *page) {
	t.pages = append(t.pages, nil)
	copy(t.pages[at+1:], t.pages[at:])
	t.pages[at] = p
}

// touch returns the page for block, creating it (and acquiring the
// frame's lock in the mode needed) on first touch. forWrite requests a
// write grant, upgrading in place if this transaction already holds a
// read grant on the page.
func (t *Tx) touch(block uint64, forWrite bool) (*page, *systx.Error) {
	if p, _ := t.find(block); p != nil {
		if forWrite && !p.written() && !p.counter.WroteEver() {
			if !p.counter.WLock() {
				return nil, systx.NewConflict(p.frame)
			}
			p.acquireOps++
		}
		return p, nil
	}

	frame := t.space.frameFor(block)
	p := t.allocPage(block, frame)

	if forWrite {
		if !p.counter.WLock() {
			return nil, systx.NewConflict(frame)
		}
	} else {
		if !p.counter.RLock() {
			return nil, systx.NewConflict(frame)
		}
	}
	p.acquireOps++
	p.flags |= flagOwnsFrame
	copy(p.buf, frame.buf)

	_, idx := t.find(block)
	t.insert(idx, p)
	return p, nil
}
