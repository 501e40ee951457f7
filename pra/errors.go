package pra

import "errors"

// Sentinel errors for the allocator's precondition violations. A mismatch
// between the backing allocator's actual behavior and the model this
// package predicts is always fatal: there is no way to recover a consistent
// placement once the two have diverged.
var (
	// ErrOutOfRange is returned when a submitted offset falls outside
	// [0, TotalBytes), or a standardized size exceeds MaxSmallSize.
	ErrOutOfRange = errors.New("pra: offset or size out of range")

	// ErrMismatch is returned when a submission on an already-touched page
	// disagrees with that page's recorded std_size or bias.
	ErrMismatch = errors.New("pra: submission disagrees with page's recorded size class")

	// ErrAlreadySet is returned when a submission targets a slot already
	// marked live.
	ErrAlreadySet = errors.New("pra: slot already marked live")

	// ErrAllocatorDesync is returned by Finish when the backing allocator's
	// Alloc callback returns an offset other than the one the page table
	// predicted for that slot.
	ErrAllocatorDesync = errors.New("pra: backing allocator diverged from predicted placement")
)
