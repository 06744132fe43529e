package tm

import "github.com/sharedcode/systx"

// PrivatizeFlag selects what a privatized region is used for.
type PrivatizeFlag uint8

const (
	// PrivatizeNone releases a previously privatized region, discarding
	// its write-through buffering.
	PrivatizeNone  PrivatizeFlag = 0
	PrivatizeLoad  PrivatizeFlag = 1 << 0
	PrivatizeStore PrivatizeFlag = 1 << 1
)

// PrivatizeLoadStore is shorthand for PrivatizeLoad|PrivatizeStore.
const PrivatizeLoadStore = PrivatizeLoad | PrivatizeStore

// forEachBlock calls fn once per block spanned by [addr, addr+n), with
// the portion of [addr, addr+n) that falls in that block expressed as
// an offset/length pair into the block's byte buffer.
func (t *Tx) forEachBlock(addr, n uint64, fn func(block, blockOffset, spanOffset, length uint64)) {
	bs := t.space.blockSize
	var spanOffset uint64
	for spanOffset < n {
		cur := addr + spanOffset
		block, off := t.space.blockOf(cur)
		length := bs - off
		if remaining := n - spanOffset; length > remaining {
			length = remaining
		}
		fn(block, off, spanOffset, length)
		spanOffset += length
	}
}

// Load copies n bytes starting at addr into dst, touching (and, on
// first touch, read-locking) every block the range spans.
func (t *Tx) Load(addr uint64, dst []byte, n uint64) *systx.Error {
	var ferr *systx.Error
	t.forEachBlock(addr, n, func(block, blockOffset, spanOffset, length uint64) {
		if ferr != nil {
			return
		}
		p, err := t.touch(block, false)
		if err != nil {
			ferr = err
			return
		}
		if p.writeThrough() {
			copy(dst[spanOffset:spanOffset+length], p.frame.buf[blockOffset:blockOffset+length])
			return
		}
		copy(dst[spanOffset:spanOffset+length], p.buf[blockOffset:blockOffset+length])
	})
	return ferr
}

// Store copies n bytes from src into memory starting at addr, write-
// locking (upgrading from read if already held) every block touched.
func (t *Tx) Store(addr uint64, src []byte, n uint64) *systx.Error {
	var ferr *systx.Error
	t.forEachBlock(addr, n, func(block, blockOffset, spanOffset, length uint64) {
		if ferr != nil {
			return
		}
		p, err := t.touch(block, true)
		if err != nil {
			ferr = err
			return
		}
		if p.writeThrough() {
			copy(p.frame.buf[blockOffset:blockOffset+length], src[spanOffset:spanOffset+length])
		} else {
			copy(p.buf[blockOffset:blockOffset+length], src[spanOffset:spanOffset+length])
		}
		p.flags |= flagWritten
	})
	return ferr
}

// LoadStore read-acquires laddr's block(s) and write-acquires saddr's
// block(s), then byte-copies between them.
func (t *Tx) LoadStore(laddr, saddr uint64, n uint64) *systx.Error {
	buf := make([]byte, n)
	if err := t.Load(laddr, buf, n); err != nil {
		return err
	}
	return t.Store(saddr, buf, n)
}

// Privatize declares [addr, addr+n) to be accessed directly through the
// returned byte slice for the remainder of the transaction: pages for
// the covered blocks switch to write-through, so subsequent Load/Store
// on those blocks (and direct writes into the returned slice) act on
// frame.buf immediately rather than being buffered. PrivatizeNone
// releases a previously privatized region instead, discarding its
// write-through state.
func (t *Tx) Privatize(addr, n uint64, flags PrivatizeFlag) ([]byte, *systx.Error) {
	if flags == PrivatizeNone {
		var ferr *systx.Error
		t.forEachBlock(addr, n, func(block, _, _, _ uint64) {
			if ferr != nil {
				return
			}
			if p, _ := t.find(block); p != nil {
				p.flags &^= flagWriteThrough
			}
		})
		return nil, ferr
	}

	forWrite := flags&PrivatizeStore != 0
	var ferr *systx.Error
	t.forEachBlock(addr, n, func(block, _, _, _ uint64) {
		if ferr != nil {
			return
		}
		p, err := t.touch(block, forWrite)
		if err != nil {
			ferr = err
			return
		}
		p.flags |= flagWriteThrough
		if forWrite {
			p.flags |= flagWritten
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	// The caller's view into a write-through region is the authoritative
	// frame bytes directly; return the live backing slice for [addr,
	// addr+n) when it falls within one block (the common case), or a
	// freshly-assembled copy describing a multi-block span (writes
	// through that copy would not be observed, so callers privatizing a
	// multi-block span should restrict further access to single blocks).
	block, off := t.space.blockOf(addr)
	if off+n <= t.space.blockSize {
		if p, _ := t.find(block); p != nil {
			return p.frame.buf[off : off+n], nil
		}
	}
	out := make([]byte, n)
	_ = t.Load(addr, out, n)
	return out, nil
}

// PrivatizeC is like Privatize but the region ends at the first
// occurrence of terminator (the C-string convention), scanning from
// addr up to a caller-supplied maxScan bound to keep the search
// reasonable for process-local use.
func (t *Tx) PrivatizeC(addr uint64, terminator byte, maxScan uint64, flags PrivatizeFlag) ([]byte, *systx.Error) {
	var length uint64
	buf := make([]byte, 1)
	for length < maxScan {
		if err := t.Load(addr+length, buf, 1); err != nil {
			return nil, err
		}
		if buf[0] == terminator {
			break
		}
		length++
	}
	return t.Privatize(addr, length, flags)
}
