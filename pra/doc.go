// Package pra implements the Placement-Reconstructing Allocator: given a set
// of (offset, size) pairs describing allocations that already exist inside a
// backing region, it drives a third-party size-class bucket allocator
// through exactly the fill/free sequence needed to reproduce that placement,
// so the allocator's internal free lists end up in the state they would
// have been in had the process never restarted.
//
// An Allocator never allocates or frees memory itself. It only ever learns
// about the backing allocator through the callbacks in Config, and its
// entire value is the bookkeeping that lets it predict, page by page, what
// a correctly reconstructed backing allocator must return.
package pra

// pageSlotLimit is the largest slot_count an inline bitmap can represent;
// above it a page's occupancy bitmap spills to a heap-allocated []uint64.
const pageSlotLimit = 64
