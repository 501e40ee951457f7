// Package dag implements the Durable Append Guard: a crash-consistent
// write-ahead staging layer that sits in front of an append-only file.
//
// A Guard mirrors every Write into a fixed-capacity ring buffer living in a
// memory-mapped staging file, advances a durable-length watermark only after
// a background flusher confirms fdatasync on the target file, and on
// restart replays whatever is still staged-but-unsynced back onto the file.
// After a crash at any point, the target file's contents equal some prefix
// of the logical byte stream that was appended to it — never a torn record,
// never a byte that diverges from what the caller wrote.
//
// One Guard serves exactly one writer and owns exactly one background
// flusher goroutine; see the package-level concurrency notes in Guard's
// doc comment for the ordering rules that make this safe without a lock.
package dag

// BLOCK is the staging granularity: both the ring's start offset and flush
// accounting advance in whole multiples of this size.
const BLOCK = 1 << 20

const (
	minBlocks = 2
	maxBlocks = 65536
)
