package ring

import "unsafe"

// sliceAddr returns a pointer to buf[offset], the only unsafe conversion
// this package needs: nvmem.Memcpy takes an unsafe.Pointer because it is the
// thing performing the durable stores, not ring itself.
func sliceAddr(buf []byte, offset uint64) unsafe.Pointer {
	return unsafe.Pointer(&buf[offset])
}
