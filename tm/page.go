package tm

import "github.com/sharedcode/systx/lock"

// pageFlags is a page's flag set: a small bitmask rather than several
// independent bools, so a page's state is one comparable value.
type pageFlags uint8

const (
	flagOwnsFrame pageFlags = 1 << iota
	flagWritten
	flagWriteThrough
)

func (f pageFlags) has(bit pageFlags) bool { return f&bit != 0 }

// page is a transaction-local mirror of one frame's bytes.
type page struct {
	blockIndex uint64
	frame      *Frame
	counter    *lock.RWCounter
	flags      pageFlags
	buf        []byte

	// acquireOps counts how many times this transaction called RLock or
	// WLock on counter for this page (at most 2: an initial acquire and
	// one read-to-write upgrade). releaseAll, called by Commit and
	// Rollback, releases exactly that many times, keeping the counter's internal bookkeeping symmetric.
	acquireOps int
}

func newPage(blockIndex uint64, f *Frame, blockSize uint64) *page {
	return &page{
		blockIndex: blockIndex,
		frame:      f,
		counter:    newRWCounter(f),
		buf:        make([]byte, blockSize),
	}
}

func newRWCounter(f *Frame) *lock.RWCounter {
	return lock.NewRWCounter(&f.Lock)
}

func (p *page) written() bool      { return p.flags.has(flagWritten) }
func (p *page) writeThrough() bool { return p.flags.has(flagWriteThrough) }
