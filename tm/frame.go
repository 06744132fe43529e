// Package tm implements the transactional memory substrate: the
// frame/page split giving word-granularity load/store, write-back
// buffering, privatization, and frame locking over a sharded directory
// of blocks.
package tm

import (
	"github.com/sharedcode/systx/lock"
	"github.com/sharedcode/systx/treemap"
)

// DefaultBlockSize is the recommended block granularity: a power of
// two between 8 and 64 bytes.
const DefaultBlockSize = 32

// Frame is the persistent, globally shared structure for one block: the
// authoritative bytes and the lock guarding them. Frames are never
// freed once created: directories are allocated lazily and never
// shrink during the process's lifetime.
type Frame struct {
	Lock lock.RWLock
	buf  []byte
}

// Space is the frame map: a sharded directory from block number to
// Frame, and the block-size that defines how addresses decompose into
// (block number, offset).
type Space struct {
	blockSize uint64
	frames    *treemap.Map[uint64, Frame]
}

// NewSpace constructs a Space with the given block size (rounded up to
// the next power of two if it isn't one already) and a 64-bit block
// number key space.
func NewSpace(blockSize uint64) (*Space, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	blockSize = nextPow2(blockSize)
	m, err := treemap.New[uint64, Frame](64, 10)
	if err != nil {
		return nil, err
	}
	return &Space{blockSize: blockSize, frames: m}, nil
}

func nextPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// BlockSize returns the configured block size.
func (s *Space) BlockSize() uint64 {
	return s.blockSize
}

// blockOf decomposes a byte address into its block number and the
// offset within that block.
func (s *Space) blockOf(addr uint64) (block uint64, offset uint64) {
	return addr / s.blockSize, addr % s.blockSize
}

// frameFor returns the (lazily created) frame for the given block
// number. Creation races are resolved by the treemap's CAS semantics;
// a losing candidate buffer is simply discarded (no external
// resources to release for a freshly-allocated, zero-filled buffer).
func (s *Space) frameFor(block uint64) *Frame {
	return s.frames.Find(block, func() *Frame {
		return &Frame{buf: make([]byte, s.blockSize)}
	}, nil)
}
