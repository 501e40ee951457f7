// Package toyalloc is a minimal, deterministic size-class bucket allocator
// used only by pra's tests and the prareplay demo to stand in for the real
// PMEM-backed allocator pra is designed to drive. It is never imported by
// pra itself, which only ever sees callers' callbacks.
//
// Allocation within a size class is a simple bump cursor plus a FIFO free
// list: Alloc hands out the earliest-freed offset still on the list first,
// and otherwise extends the class monotonically. This mirrors the same
// partitioned-free-offset-list shape as buildbarn/bb-storage's
// PartitioningBlockAllocator, scaled down to slot rather than block
// granularity.
package toyalloc

import (
	"fmt"
	"sort"
	"sync"
)

// Config fixes the backing region's shape.
type Config struct {
	TotalBytes uint64
	PageBytes  uint64

	// SizeClasses lists the standardized sizes this allocator understands,
	// ascending. StandardizeSize rounds a requested size up to the
	// smallest class that fits it.
	SizeClasses []uint64

	// ReservedPages marks page IDs the allocator will never hand out,
	// standing in for a real allocator's own bookkeeping pages.
	ReservedPages map[uint64]bool
}

type classState struct {
	nextOffset uint64
	freeList   []uint64
}

// Allocator is the toy backing allocator itself.
type Allocator struct {
	cfg Config

	mu        sync.Mutex
	classes   map[uint64]*classState
	pageOwner map[uint64]uint64 // pageID -> stdSize, absent if untouched
}

// New constructs an empty Allocator over the given region.
func New(cfg Config) *Allocator {
	if cfg.ReservedPages == nil {
		cfg.ReservedPages = map[uint64]bool{}
	}
	sorted := append([]uint64(nil), cfg.SizeClasses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	cfg.SizeClasses = sorted

	return &Allocator{
		cfg:       cfg,
		classes:   map[uint64]*classState{},
		pageOwner: map[uint64]uint64{},
	}
}

// StandardizeSize rounds size up to the smallest configured size class that
// fits it. Matches pra.StandardizeFunc.
func (a *Allocator) StandardizeSize(size uint64) (uint64, error) {
	for _, c := range a.cfg.SizeClasses {
		if c >= size {
			return c, nil
		}
	}
	return 0, fmt.Errorf("toyalloc: no configured size class fits %d bytes", size)
}

// IsPageAllocatable reports whether pageID is outside ReservedPages. Matches
// pra.PageAllocatableFunc.
func (a *Allocator) IsPageAllocatable(pageID uint64) bool {
	return !a.cfg.ReservedPages[pageID]
}

// Alloc hands out the next slot of the given standardized size, preferring
// a previously freed slot over extending the class. Matches pra.AllocFunc.
func (a *Allocator) Alloc(stdSize uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cs, ok := a.classes[stdSize]
	if !ok {
		cs = &classState{}
		a.classes[stdSize] = cs
	}

	if len(cs.freeList) > 0 {
		offset := cs.freeList[0]
		cs.freeList = cs.freeList[1:]
		return offset, nil
	}

	offset := cs.nextOffset
	if offset+stdSize > a.cfg.TotalBytes {
		return 0, fmt.Errorf("toyalloc: backing region exhausted for size class %d", stdSize)
	}
	pageID := offset / a.cfg.PageBytes
	if a.cfg.ReservedPages[pageID] {
		return 0, fmt.Errorf("toyalloc: page %d is reserved, cannot extend size class %d", pageID, stdSize)
	}
	if owner, touched := a.pageOwner[pageID]; touched && owner != stdSize {
		return 0, fmt.Errorf("toyalloc: page %d already owned by size class %d, cannot also serve %d", pageID, owner, stdSize)
	}
	a.pageOwner[pageID] = stdSize
	cs.nextOffset = offset + stdSize
	return offset, nil
}

// Free releases a slot back to its owning size class's free list. Matches
// pra.FreeFunc.
func (a *Allocator) Free(offset uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pageID := offset / a.cfg.PageBytes
	stdSize, ok := a.pageOwner[pageID]
	if !ok {
		return fmt.Errorf("toyalloc: free of offset %d on untouched page %d", offset, pageID)
	}
	cs := a.classes[stdSize]
	cs.freeList = append(cs.freeList, offset)
	return nil
}
