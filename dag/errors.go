package dag

import "errors"

// Sentinel errors for the guard's precondition violations. Platform
// failures (mmap, write, fdatasync) are wrapped with
// github.com/pkg/errors at the call site instead, since they carry a
// dynamic underlying cause rather than being one of a fixed small set.
var (
	// ErrInvalidFD is returned when Init is given a nil or otherwise unusable
	// target file.
	ErrInvalidFD = errors.New("dag: invalid target file")

	// ErrCapacityRange is returned when stagingBytes/BLOCK falls outside
	// [2, 65536].
	ErrCapacityRange = errors.New("dag: staging capacity out of range")

	// ErrBroken is returned when an existing staging file's size doesn't
	// match 16+capacity, or its recovered metadata fails validation.
	ErrBroken = errors.New("dag: staging file is broken")

	// ErrTargetBroken is returned when the target file is shorter than the
	// durable length recorded in staging metadata.
	ErrTargetBroken = errors.New("dag: target file shorter than durable length")

	// ErrTooLarge is returned by Write when a single call cannot be
	// appended atomically within the worst-case wrap-around room.
	ErrTooLarge = errors.New("dag: write too large to append atomically")
)
