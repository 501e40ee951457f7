// Package ring implements the logical (start, len) circular byte region over
// a fixed-capacity window of PMEM-resident ring bytes, block-aligned at its
// start, mirrored by nvmem.Memcpy so every byte it reports has already
// retired durably.
//
// This is the same head/tail bookkeeping a single-daemon byte pipe uses,
// rewritten around a durable backing store instead of a volatile page: Ring
// tracks offsets into a caller-owned byte slice rather than owning pages
// itself, and Mirror always durably copies through nvmem instead of plain
// copy().
package ring

import (
	"duraguard/nvmem"
)

// Ring tracks (start, len) over a fixed-capacity circular byte region. It
// holds no backing memory itself — Mirror and views are expressed in terms
// of a caller-supplied []byte window into the staging region.
type Ring struct {
	start    uint64
	length   uint64
	capacity uint64
}

// New constructs a Ring over a region of the given capacity, with the
// initial logical state (start, len) as already recovered or reset by the
// caller (see dag.Init).
func New(capacity, start, length uint64) *Ring {
	if start >= capacity && capacity != 0 {
		panic("ring: start out of range")
	}
	return &Ring{start: start, length: length, capacity: capacity}
}

// Start returns the current ring-relative start offset.
func (r *Ring) Start() uint64 { return r.start }

// Len returns the number of live bytes currently staged.
func (r *Ring) Len() uint64 { return r.length }

// Capacity returns the fixed ring capacity.
func (r *Ring) Capacity() uint64 { return r.capacity }

// End returns the offset one past the most recently mirrored byte.
func (r *Ring) End() uint64 {
	return forward(r.start, r.length, r.capacity)
}

// AdvanceStart moves start forward by n bytes (always a multiple of BLOCK at
// the dag layer) and shrinks len by the same amount. It panics if n
// exceeds len.
func (r *Ring) AdvanceStart(n uint64) {
	if n > r.length {
		panic("ring: advancing past buffer end")
	}
	r.start = forward(r.start, n, r.capacity)
	r.length -= n
}

// Grow extends len by n bytes, the bytes having already been durably
// mirrored into the region by the caller via Mirror.
func (r *Ring) Grow(n uint64) {
	if r.length+n > r.capacity {
		panic("ring: grow exceeds capacity")
	}
	r.length += n
}

// Mirror durably writes data into buf (the mmap'd ring-bytes window, len(buf)
// == capacity) starting at the ring's current End(), splitting across
// wrap-around into at most two contiguous nvmem.Memcpy calls.
func (r *Ring) Mirror(buf []byte, data []byte) {
	if uint64(len(buf)) != r.capacity {
		panic("ring: buf does not match capacity")
	}
	writePos := r.End()
	n := uint64(len(data))
	if writePos+n <= r.capacity {
		nvmem.Memcpy(sliceAddr(buf, writePos), data)
		return
	}
	frontSz := r.capacity - writePos
	nvmem.Memcpy(sliceAddr(buf, writePos), data[:frontSz])
	nvmem.Memcpy(sliceAddr(buf, 0), data[frontSz:])
}

// forward advances val by addition within [0, capacity), matching the
// RING_BUF_FORWARD macro of the original: a single conditional subtraction,
// valid because addition never needs to wrap more than once per call site.
func forward(val, addition, capacity uint64) uint64 {
	val += addition
	if val >= capacity {
		val -= capacity
	}
	return val
}
