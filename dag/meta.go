package dag

import (
	"unsafe"

	"duraguard/nvmem"
)

// meta wraps the two 8-byte PMEM cells at the front of the staging file:
//
//	bytes [0,8)  - mixed cell: low 48 bits durable_length, high 16 bits start/BLOCK
//	bytes [8,16) - buffer_end, in [0, capacity)
//
// Both cells are mutated only through nvmem.StoreU64, so every observable
// post-crash state is the result of a single aligned atomic store.
type meta struct {
	mixedAddr unsafe.Pointer
	endAddr   unsafe.Pointer
}

func newMeta(mapped []byte) *meta {
	if len(mapped) < 16 {
		panic("dag: mapped region too small for metadata cells")
	}
	return &meta{
		mixedAddr: unsafe.Pointer(&mapped[0]),
		endAddr:   unsafe.Pointer(&mapped[8]),
	}
}

const (
	durableLenMask = (uint64(1) << 48) - 1
	startBlockMask = uint64(0xffff) << 48
)

func encodeMixed(durableLength, start uint64) uint64 {
	return (durableLength & durableLenMask) | (((start / BLOCK) << 48) & startBlockMask)
}

func decodeMixed(v uint64) (durableLength, start uint64) {
	durableLength = v & durableLenMask
	start = ((v >> 48) & 0xffff) * BLOCK
	return
}

func (m *meta) loadMixed() (durableLength, start uint64) {
	return decodeMixed(nvmem.LoadU64(m.mixedAddr))
}

func (m *meta) storeMixed(durableLength, start uint64) {
	nvmem.StoreU64(m.mixedAddr, encodeMixed(durableLength, start))
}

func (m *meta) loadEnd() uint64 {
	return nvmem.LoadU64(m.endAddr)
}

func (m *meta) storeEnd(v uint64) {
	nvmem.StoreU64(m.endAddr, v)
}
